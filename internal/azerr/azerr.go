// Package azerr defines the error taxonomy shared by the detection engine.
//
// Configuration errors are fatal at setup. Missing samples and provider
// timeouts are local: callers convert them into a missing tick for the
// affected alarms instead of propagating them.
package azerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches any *ConfigurationError via errors.Is.
	ErrConfiguration = errors.New("configuration error")

	// ErrMissingSample reports that a metric sample is absent for a bucket.
	ErrMissingSample = errors.New("missing sample")

	// ErrProviderTimeout reports that an external provider did not answer
	// within its deadline. The tick is treated as missing and marked degraded.
	ErrProviderTimeout = errors.New("external provider timeout")
)

// ConfigurationError describes an invalid setting detected at setup time.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Configf builds a ConfigurationError with a formatted reason.
func Configf(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsDegraded reports whether err marks a tick as degraded, i.e. the sample
// is missing because a collaborator failed rather than because no data exists.
func IsDegraded(err error) bool {
	return errors.Is(err, ErrProviderTimeout)
}
