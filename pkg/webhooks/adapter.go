// Package webhooks verifies inbound external events and normalizes them into
// entity-mapping instructions for the journey tracker. Each source is served
// by an adapter; unconfigured sources fall back to the generic field-path
// adapter.
package webhooks

import (
	"fmt"
	"strings"

	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/template"
)

// Extraction is the normalized entity data pulled from one source payload.
type Extraction struct {
	Email      string
	Name       string
	EntityType models.EntityType
	Metadata   map[string]any
	EventID    string
}

// Adapter handles one external source's request format: its authentication
// scheme, its payload shape, and its event typing.
type Adapter interface {
	ID() string

	// Verify checks the request against the config's authentication scheme.
	// Returns ErrSignatureInvalid on mismatch.
	Verify(config *models.WebhookConfig, headers map[string]string, body []byte) error

	// Extract pulls entity fields out of the decoded payload.
	Extract(config *models.WebhookConfig, payload map[string]any) (*Extraction, error)

	// EventType identifies the source event type, or "" when the payload
	// does not carry one.
	EventType(payload map[string]any) string
}

// header does a case-insensitive lookup in the request headers.
func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}

	return ""
}

// extractMapping applies a declarative field mapping to a payload. Values
// prefixed "$." are field-path expressions evaluated against the payload;
// anything else is a literal. Expressions resolving to nothing leave the
// field unset.
func extractMapping(mapping models.EntityMapping, payload map[string]any) (*Extraction, error) {
	extraction := &Extraction{}

	for field, value := range mapping {
		resolved, err := resolveMappingValue(value, payload)
		if err != nil {
			return nil, fmt.Errorf("mapping field %s: %w", field, err)
		}

		if resolved == nil {
			continue
		}

		switch {
		case field == models.MappingFieldEmail:
			extraction.Email = asString(resolved)
		case field == models.MappingFieldName:
			extraction.Name = asString(resolved)
		case field == models.MappingFieldEntityType:
			extraction.EntityType = models.EntityType(asString(resolved))
		case strings.HasPrefix(field, models.MappingMetadataPrefix):
			if extraction.Metadata == nil {
				extraction.Metadata = make(map[string]any)
			}

			extraction.Metadata[strings.TrimPrefix(field, models.MappingMetadataPrefix)] = resolved
		}
	}

	return extraction, nil
}

func resolveMappingValue(value string, payload map[string]any) (any, error) {
	if !strings.HasPrefix(value, "$.") {
		return value, nil
	}

	return template.Render(strings.TrimPrefix(value, "$."), payload)
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}

// payloadEventID looks for the source's own event identifier under its
// conventional keys.
func payloadEventID(payload map[string]any) string {
	for _, key := range []string{"event_id", "eventId", "id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}

// payloadEventType looks for the source's event type under its conventional
// keys.
func payloadEventType(payload map[string]any) string {
	for _, key := range []string{"event_type", "type", "event"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}

	return ""
}
