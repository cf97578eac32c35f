package prefs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/colthorp/localekit-go/internal/storage"
)

// ErrorKind classifies a StoreError.
type ErrorKind string

const (
	KindStorage   ErrorKind = "storage"
	KindQuota     ErrorKind = "quota"
	KindCorrupted ErrorKind = "corrupted"
)

// StoreError is returned when an operation could not complete against the
// backend. In-memory state stays usable after any StoreError.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError lists every problem found in a rejected preference or
// record. Nothing is persisted when it is returned.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Errors, "; ")
}

// ErrNoBackup is returned by RestoreFromBackup when no backup exists.
var ErrNoBackup = errors.New("no backup found")

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := KindStorage
	switch {
	case errors.Is(err, storage.ErrQuotaExceeded):
		kind = KindQuota
	case errors.Is(err, storage.ErrCorrupted):
		kind = KindCorrupted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// softFailure reports backend conditions that mean "state does not
// persist" rather than a defect.
func softFailure(err error) bool {
	return errors.Is(err, storage.ErrUnavailable) || errors.Is(err, storage.ErrCorrupted)
}
