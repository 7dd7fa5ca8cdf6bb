package webhooks

import (
	"crypto/subtle"
	"fmt"

	"github.com/flowion/flowion/pkg/models"
)

// TokenHeader carries the shared secret for token-authenticated sources.
const TokenHeader = "X-Webhook-Token"

// GenericAdapter serves sources without a dedicated adapter. Verification is
// a shared-token check when the config carries a secret, and extraction is
// driven entirely by the config's field mapping.
type GenericAdapter struct{}

func NewGenericAdapter() *GenericAdapter {
	return &GenericAdapter{}
}

func (a *GenericAdapter) ID() string {
	return "generic"
}

func (a *GenericAdapter) Verify(config *models.WebhookConfig, headers map[string]string, _ []byte) error {
	if config.Secret == "" {
		return nil
	}

	token := header(headers, TokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(config.Secret)) != 1 {
		return fmt.Errorf("token mismatch for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	return nil
}

func (a *GenericAdapter) Extract(config *models.WebhookConfig, payload map[string]any) (*Extraction, error) {
	extraction, err := extractMapping(config.Mapping, payload)
	if err != nil {
		return nil, err
	}

	extraction.EventID = payloadEventID(payload)

	return extraction, nil
}

func (a *GenericAdapter) EventType(payload map[string]any) string {
	return payloadEventType(payload)
}
