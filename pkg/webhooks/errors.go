package webhooks

import "errors"

var (
	// ErrSignatureInvalid indicates the request failed the config's
	// authentication scheme.
	ErrSignatureInvalid = errors.New("webhook signature invalid")

	// ErrConfigInactive indicates the slug resolved to a disabled config.
	ErrConfigInactive = errors.New("webhook config inactive")

	// ErrAdapterUnknown indicates the config references an adapter that was
	// never registered.
	ErrAdapterUnknown = errors.New("webhook adapter unknown")

	// ErrPayloadInvalid indicates the request body was not valid JSON or
	// failed the config's payload schema.
	ErrPayloadInvalid = errors.New("webhook payload invalid")

	// ErrEmailMissing indicates extraction produced no email, so no entity
	// can be resolved.
	ErrEmailMissing = errors.New("webhook payload yields no entity email")
)
