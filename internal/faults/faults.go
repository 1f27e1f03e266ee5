// Package faults defines the error taxonomy shared by the orchestrators:
// validation errors, the two user-facing quotas, failures of external
// dependencies, and the embedding provider's rate-exhaustion condition.
package faults

import (
	"errors"
	"fmt"
)

// Validation reports missing or malformed caller input. Surfaced before any
// side effects.
type Validation struct {
	Msg string
}

func (e *Validation) Error() string { return e.Msg }

// Validationf builds a Validation error from a format string.
func Validationf(format string, args ...any) *Validation {
	return &Validation{Msg: fmt.Sprintf(format, args...)}
}

// Quota reports that a per-user limit (repository count or question count)
// would be exceeded. No partial work has been performed.
type Quota struct {
	Resource string // "repositories" or "questions"
	Limit    int
	Msg      string
}

func (e *Quota) Error() string { return e.Msg }

// Dependency reports a failure of an external capability (content source,
// embedding, generation, store). Hint carries a remediation note when the
// cause is a known structural issue.
type Dependency struct {
	System string
	Hint   string
	Err    error
}

func (e *Dependency) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %v (%s)", e.System, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.System, e.Err)
}

func (e *Dependency) Unwrap() error { return e.Err }

// ProviderQuota is the embedding/generation provider reporting rate or quota
// exhaustion. It is classified apart from other dependency failures so the
// caller can choose its own retry policy; nothing here retries.
type ProviderQuota struct {
	Provider string
	Err      error
}

func (e *ProviderQuota) Error() string {
	return fmt.Sprintf("%s quota exceeded: %v", e.Provider, e.Err)
}

func (e *ProviderQuota) Unwrap() error { return e.Err }

// IsValidation reports whether err is a Validation error.
func IsValidation(err error) bool {
	var v *Validation
	return errors.As(err, &v)
}

// IsQuota reports whether err is a user-quota error.
func IsQuota(err error) bool {
	var q *Quota
	return errors.As(err, &q)
}

// IsDependency reports whether err is a dependency failure.
func IsDependency(err error) bool {
	var d *Dependency
	return errors.As(err, &d)
}

// IsProviderQuota reports whether err is provider rate/quota exhaustion.
func IsProviderQuota(err error) bool {
	var p *ProviderQuota
	return errors.As(err, &p)
}
