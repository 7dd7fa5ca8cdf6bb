package webhooks

import (
	"crypto/subtle"
	"fmt"

	"github.com/flowion/flowion/pkg/models"
)

// StaticTokenAdapter verifies requests carrying a pre-shared token header.
// Unlike the generic adapter it rejects configs without a secret, so a
// misconfigured source cannot silently go unauthenticated.
type StaticTokenAdapter struct{}

func NewStaticTokenAdapter() *StaticTokenAdapter {
	return &StaticTokenAdapter{}
}

func (a *StaticTokenAdapter) ID() string {
	return "static-token"
}

func (a *StaticTokenAdapter) Verify(config *models.WebhookConfig, headers map[string]string, _ []byte) error {
	if config.Secret == "" {
		return fmt.Errorf("config %s has no secret for token verification: %w", config.Slug, ErrSignatureInvalid)
	}

	token := header(headers, TokenHeader)
	if token == "" {
		return fmt.Errorf("missing token for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(config.Secret)) != 1 {
		return fmt.Errorf("token mismatch for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	return nil
}

func (a *StaticTokenAdapter) Extract(config *models.WebhookConfig, payload map[string]any) (*Extraction, error) {
	extraction, err := extractMapping(config.Mapping, payload)
	if err != nil {
		return nil, err
	}

	extraction.EventID = payloadEventID(payload)

	return extraction, nil
}

func (a *StaticTokenAdapter) EventType(payload map[string]any) string {
	return payloadEventType(payload)
}
