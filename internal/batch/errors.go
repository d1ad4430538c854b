package batch

import (
	"errors"
	"fmt"

	"media-compressor-go/internal/media"
)

var (
	ErrCapacityExceeded  = errors.New("batch capacity exceeded")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobProcessing     = errors.New("job is processing")
	ErrRunInProgress     = errors.New("compression run already in progress")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrClosed            = errors.New("batch is closed")
)

// CapacityError is returned when an admission would exceed the batch limit.
// Nothing from the rejected call is admitted.
type CapacityError struct {
	Category  media.Category
	Limit     int
	Current   int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("at most %d %s files per batch: %d queued, %d requested",
		e.Limit, e.Category, e.Current, e.Requested)
}

// Is makes errors.Is(err, ErrCapacityExceeded) hold.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
