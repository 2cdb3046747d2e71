package oidc

import (
	"context"
	"fmt"

	"github.com/ceolin/mobilidade/backend/go-services/internal/config"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/logger"
	"github.com/ceolin/mobilidade/backend/go-services/pkg/middleware"
	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier wraps the OIDC provider and token verifier
type Verifier struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies ID tokens issued to clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	cfg := &oidc.Config{ClientID: clientID, SkipClientIDCheck: clientID == ""}
	return &Verifier{provider: provider, verifier: provider.Verifier(cfg)}, nil
}

// Verify checks the raw ID token's signature, issuer, audience and expiry.
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return idToken, nil
}

// FromConfig picks the verifier for write protection: OIDC when an issuer is
// set, the insecure verifier when explicitly allowed, otherwise nil.
func FromConfig(ctx context.Context, cfg config.AuthConfig) (middleware.Verifier, error) {
	if cfg.Issuer != "" {
		ver, err := NewVerifier(ctx, cfg.Issuer, cfg.ClientID)
		if err != nil {
			return nil, err
		}
		return ver, nil
	}
	if cfg.AllowInsecure {
		logger.Warn("enabling insecure OIDC verifier (integration mode)")
		return NewInsecureVerifier(), nil
	}
	return nil, nil
}
