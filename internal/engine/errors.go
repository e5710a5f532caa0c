package engine

import "errors"

// Sentinel errors for the engine. Configuration errors are permanent for the
// prospect they concern (the tick skips it and retries next time); repository
// and network errors are transient and drive the tick-level backoff.
var (
	// ErrNotFound is returned by repositories for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrStaleProspect means a compare-and-swap on follow_up_count lost the
	// race: another writer advanced the prospect first.
	ErrStaleProspect = errors.New("prospect state changed concurrently")

	// ErrNoOriginalProvider means no email record exists for the prospect,
	// so the original sending provider cannot be resolved.
	ErrNoOriginalProvider = errors.New("no original provider recorded for prospect")

	// ErrNoTemplate means neither the follow-up rule, the campaign's
	// follow-up template list, nor the campaign's main template yielded
	// usable content.
	ErrNoTemplate = errors.New("no usable follow-up template")

	// ErrBadTimezone means the campaign's IANA zone name did not resolve.
	ErrBadTimezone = errors.New("invalid campaign timezone")

	// ErrUnknownProvider means the provider id on the prospect's first email
	// has no registered sender.
	ErrUnknownProvider = errors.New("unknown email provider")
)

// TransientError wraps an infrastructure failure that should abort the
// current tick and trigger backoff rather than be handled per prospect.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a transient infrastructure failure.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a transient
// infrastructure failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
