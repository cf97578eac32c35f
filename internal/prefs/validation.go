package prefs

import (
	"fmt"
	"math"

	"github.com/colthorp/localekit-go/internal/locale"
)

// Validation is the outcome of checking a preference or record. Warnings
// never block a save.
type Validation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err returns a *ValidationError when v is not valid.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	return &ValidationError{Errors: v.Errors}
}

// maxTimestamp rejects values that are obviously seconds-vs-millis mistakes
// or garbage (year 9999).
const maxTimestamp = 253402300799999

func validateFields(set *locale.Set, l locale.Locale, src locale.Source, ts int64, confidence float64) Validation {
	var v Validation
	if !set.Contains(l) {
		v.Errors = append(v.Errors, fmt.Sprintf("locale %q is not supported", l))
	}
	if !src.IsValid() {
		v.Errors = append(v.Errors, fmt.Sprintf("source %q is not recognized", src))
	}
	if ts <= 0 || ts > maxTimestamp {
		v.Errors = append(v.Errors, fmt.Sprintf("timestamp %d is not a valid epoch millisecond value", ts))
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		v.Errors = append(v.Errors, fmt.Sprintf("confidence %v is outside [0,1]", confidence))
	}
	if src == locale.SourceUser && confidence < 0.9 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("manual selection with low confidence %.2f", confidence))
	}
	if src.IsFallback() && confidence > 0.3 {
		v.Warnings = append(v.Warnings, fmt.Sprintf("fallback source with suspiciously high confidence %.2f", confidence))
	}
	v.Valid = len(v.Errors) == 0
	return v
}

// ValidatePreference checks p against the supported set.
func ValidatePreference(set *locale.Set, p Preference) Validation {
	return validateFields(set, p.Locale, p.Source, p.Timestamp, p.Confidence)
}

// ValidateRecord checks r against the supported set.
func ValidateRecord(set *locale.Set, r Record) Validation {
	v := validateFields(set, r.Locale, r.Source, r.Timestamp, r.Confidence)
	if r.ID == "" {
		v.Errors = append(v.Errors, "record id is empty")
		v.Valid = false
	}
	if r.DurationMs < 0 {
		v.Errors = append(v.Errors, fmt.Sprintf("duration %d is negative", r.DurationMs))
		v.Valid = false
	}
	return v
}
