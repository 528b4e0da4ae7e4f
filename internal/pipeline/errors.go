package pipeline

import (
	"fmt"

	"meetscribe/pkg/domain"
)

// StageError wraps a fatal stage failure with the stage that produced it.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
