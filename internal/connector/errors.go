package connector

import (
	"errors"
	"fmt"

	"connector-queue-manager/internal/models"
)

var (
	ErrAlreadyRegistered = errors.New("connector already registered")
	ErrNotFound          = errors.New("connector not found")
	ErrUnknownConnector  = errors.New("unknown connector")
	ErrInvalidIdentity   = errors.New("invalid connector identity")
)

// PartialDeregistrationError is returned when the listen queue was deleted
// but the push queue was not. Report holds what was drained so far.
type PartialDeregistrationError struct {
	ID     string
	Report models.DrainReport
	Err    error
}

func (e *PartialDeregistrationError) Error() string {
	return fmt.Sprintf("partial deregistration of connector %s: listen queue drained %d messages, push queue not deleted: %v",
		e.ID, e.Report.Listen.MessageCount, e.Err)
}

func (e *PartialDeregistrationError) Unwrap() error {
	return e.Err
}
