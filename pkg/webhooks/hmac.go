package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/flowion/flowion/pkg/models"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw request
// body, prefixed "sha256=".
const SignatureHeader = "X-Signature-256"

const signaturePrefix = "sha256="

// HMACAdapter verifies requests signed with HMAC-SHA256 over the raw body,
// the scheme used by most webhook providers. Extraction follows the config's
// field mapping.
type HMACAdapter struct{}

func NewHMACAdapter() *HMACAdapter {
	return &HMACAdapter{}
}

func (a *HMACAdapter) ID() string {
	return "hmac-sha256"
}

func (a *HMACAdapter) Verify(config *models.WebhookConfig, headers map[string]string, body []byte) error {
	if config.Secret == "" {
		return fmt.Errorf("config %s has no secret for HMAC verification: %w", config.Slug, ErrSignatureInvalid)
	}

	signature := header(headers, SignatureHeader)
	if !strings.HasPrefix(signature, signaturePrefix) {
		return fmt.Errorf("missing or malformed signature for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return fmt.Errorf("malformed signature for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(config.Secret))
	mac.Write(body)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("signature mismatch for %s: %w", config.Slug, ErrSignatureInvalid)
	}

	return nil
}

func (a *HMACAdapter) Extract(config *models.WebhookConfig, payload map[string]any) (*Extraction, error) {
	extraction, err := extractMapping(config.Mapping, payload)
	if err != nil {
		return nil, err
	}

	extraction.EventID = payloadEventID(payload)

	return extraction, nil
}

func (a *HMACAdapter) EventType(payload map[string]any) string {
	return payloadEventType(payload)
}

// Sign computes the signature header value for a body, used by tests and
// local tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
