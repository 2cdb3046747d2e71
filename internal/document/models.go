package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Document is the whole application dataset, persisted as one JSON blob.
// The shape is a convention between clients; records are kept as decoded,
// so fields and top-level keys this package does not know survive a
// decode/encode round trip unchanged.
type Document struct {
	Users             []Record
	Rides             []Record
	Documents         []Record
	Chats             []Record
	Messages          []Record
	InstitutionalInfo InstitutionalInfo
	// Extra holds any other top-level keys.
	Extra map[string]any
}

// Roles used by the application.
const (
	RolePassenger = "Passageiro"
	RoleDriver    = "Motorista"
	RoleAdmin     = "Admin"
	RoleOperator  = "Atendente"
)

// Ride statuses.
const (
	RideRequested  = "requested"
	RideAccepted   = "accepted"
	RideInProgress = "in_progress"
	RideCompleted  = "completed"
	RideCanceled   = "canceled"
)

// InstitutionalInfo holds free-form company metadata.
type InstitutionalInfo map[string]any

// Record is one entry of a collection. Numbers are held as json.Number so
// they are written back exactly as they were read.
type Record map[string]any

// ID returns the record's "id".
func (r Record) ID() string { return r.String("id") }

// String returns the string at key, or "" when absent or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Number returns the value at key as a float. Numeric strings are accepted.
func (r Record) Number(key string) (float64, bool) {
	switch v := r[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Bool returns the bool at key.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Time parses the timestamp at key. Both RFC 3339 and the space-separated
// form written by PocketBase are accepted.
func (r Record) Time(key string) (time.Time, bool) {
	s := r.String(key)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// User, Ride, DriverDocument, Chat and Message build new records with the
// application's well-known fields. Convert them with Record.

type User struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Email              string   `json:"email,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	Role               string   `json:"role"`
	Avatar             string   `json:"avatar,omitempty"`
	DriverStatus       string   `json:"driver_status,omitempty"`
	DriverVehicleModel string   `json:"driver_vehicle_model,omitempty"`
	DriverVehiclePlate string   `json:"driver_vehicle_plate,omitempty"`
	DriverPixKey       string   `json:"driver_pix_key,omitempty"`
	DriverFareType     string   `json:"driver_fare_type,omitempty"` // fixed | km
	DriverFixedRate    *float64 `json:"driver_fixed_rate,omitempty"`
	DriverKmRate       *float64 `json:"driver_km_rate,omitempty"`
	DriverAcceptsRural *bool    `json:"driver_accepts_rural,omitempty"`
}

func (u User) Record() Record { return toRecord(u) }

type Ride struct {
	ID                     string  `json:"id"`
	Passenger              string  `json:"passenger"`
	PassengerAnonymousName string  `json:"passenger_anonymous_name,omitempty"`
	Driver                 string  `json:"driver,omitempty"`
	OriginAddress          string  `json:"origin_address"`
	DestinationAddress     string  `json:"destination_address"`
	Status                 string  `json:"status"`
	Fare                   float64 `json:"fare"`
	IsNegotiated           bool    `json:"is_negotiated"`
	StartedBy              string  `json:"started_by"` // passenger | driver
	RideDescription        string  `json:"ride_description,omitempty"`
	ScheduledFor           string  `json:"scheduled_for,omitempty"`
	Created                string  `json:"created,omitempty"`
	Updated                string  `json:"updated,omitempty"`
}

func (r Ride) Record() Record { return toRecord(r) }

type DriverDocument struct {
	ID           string `json:"id"`
	Driver       string `json:"driver"`
	DocumentType string `json:"document_type"` // CNH | CRLV
	File         string `json:"file"`
	IsVerified   bool   `json:"is_verified"`
}

func (d DriverDocument) Record() Record { return toRecord(d) }

type Chat struct {
	ID           string   `json:"id"`
	Ride         string   `json:"ride,omitempty"`
	Participants []string `json:"participants"`
	Created      string   `json:"created,omitempty"`
}

func (c Chat) Record() Record { return toRecord(c) }

type Message struct {
	ID      string `json:"id"`
	Chat    string `json:"chat,omitempty"`
	Ride    string `json:"ride,omitempty"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
	Created string `json:"created,omitempty"`
}

func (m Message) Record() Record { return toRecord(m) }

func toRecord(v any) Record {
	b, err := json.Marshal(v)
	if err != nil {
		return Record{}
	}
	var r Record
	if err := unmarshalNumbers(b, &r); err != nil {
		return Record{}
	}
	return r
}

// Default returns the document served before anything has been written.
func Default() *Document {
	d := &Document{}
	d.normalize()
	return d
}

// DefaultContent is Default encoded the way every write is encoded.
func DefaultContent() string {
	s, _ := Encode(Default())
	return s
}

// Encode serializes d with two-space indentation. Nil collections are
// written as empty arrays.
func Encode(d *Document) (string, error) {
	if d == nil {
		d = Default()
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(b), nil
}

// Decode parses serialized document content.
func Decode(content string) (*Document, error) {
	var d Document
	if err := json.Unmarshal([]byte(content), &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &d, nil
}

func (d *Document) collections() []struct {
	key  string
	recs *[]Record
} {
	return []struct {
		key  string
		recs *[]Record
	}{
		{"users", &d.Users},
		{"rides", &d.Rides},
		{"documents", &d.Documents},
		{"chats", &d.Chats},
		{"messages", &d.Messages},
	}
}

const institutionalKey = "institutional_info"

// MarshalJSON writes the well-known keys first, in their conventional
// order, followed by Extra sorted by key.
func (d Document) MarshalJSON() ([]byte, error) {
	d.normalize()
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		buf.Write(b)
		return nil
	}
	for _, c := range d.collections() {
		if err := write(c.key, *c.recs); err != nil {
			return nil, err
		}
	}
	if err := write(institutionalKey, d.InstitutionalInfo); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, d.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any JSON object. A well-known key holding the
// wrong type is an error; unknown keys go to Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return err
	}
	if top == nil {
		return fmt.Errorf("document must be a JSON object")
	}
	*d = Document{}
	for _, c := range d.collections() {
		raw, ok := top[c.key]
		if !ok {
			continue
		}
		delete(top, c.key)
		if err := unmarshalNumbers(raw, c.recs); err != nil {
			return fmt.Errorf("%s: %w", c.key, err)
		}
	}
	if raw, ok := top[institutionalKey]; ok {
		delete(top, institutionalKey)
		if err := unmarshalNumbers(raw, &d.InstitutionalInfo); err != nil {
			return fmt.Errorf("%s: %w", institutionalKey, err)
		}
	}
	for k, raw := range top {
		var v any
		if err := unmarshalNumbers(raw, &v); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if d.Extra == nil {
			d.Extra = map[string]any{}
		}
		d.Extra[k] = v
	}
	d.normalize()
	return nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (d *Document) normalize() {
	for _, c := range d.collections() {
		if *c.recs == nil {
			*c.recs = []Record{}
		}
	}
	if d.InstitutionalInfo == nil {
		d.InstitutionalInfo = InstitutionalInfo{}
	}
}

// Clone returns a deep copy made through the JSON encoding.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}
