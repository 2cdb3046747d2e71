package document

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrShape is wrapped by ValidateShape failures.
var ErrShape = errors.New("document does not match the expected shape")

var collectionKeys = []string{"users", "rides", "documents", "chats", "messages"}

// ValidateShape checks that content is a JSON object whose well-known keys,
// when present, have the conventional types. Unknown keys are allowed.
func ValidateShape(content []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(content, &top); err != nil || top == nil {
		return fmt.Errorf("%w: content must be a JSON object", ErrShape)
	}
	for _, key := range collectionKeys {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || arr == nil {
			return fmt.Errorf("%w: %q must be an array", ErrShape, key)
		}
	}
	if raw, ok := top["institutional_info"]; ok {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return fmt.Errorf("%w: %q must be an object", ErrShape, "institutional_info")
		}
	}
	return nil
}
