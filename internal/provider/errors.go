package provider

import (
	"errors"
	"fmt"
)

// Gateway error taxonomy. Transient conditions (auth expiry, rate limits,
// endpoint unavailability) are recovered inside the adapters and only
// surface when recovery is exhausted.
var (
	ErrProviderDisabled  = errors.New("provider is disabled")
	ErrNoAccount         = errors.New("no account found")
	ErrAccountConflict   = errors.New("account id and provider id disagree")
	ErrAuthExpired       = errors.New("upstream auth expired")
	ErrRateLimited       = errors.New("upstream rate limited")
	ErrUnavailable       = errors.New("upstream unavailable")
	ErrProtocol          = errors.New("unexpected upstream response")
	ErrChallengeExpired  = errors.New("pow challenge expired")
	ErrSessionExpired    = errors.New("upstream session expired")
	ErrModelNotSupported = errors.New("model not supported")
)

// UpstreamError carries the upstream's status and message text so the
// calling protocol can wrap it in its native error envelope.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Kind       error // one of the sentinels above, or nil
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s upstream returned status %d", e.Provider, e.StatusCode)
	}

	return fmt.Sprintf("%s upstream returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Kind
}
