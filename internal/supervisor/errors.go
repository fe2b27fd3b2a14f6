package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotRunning is returned by operations that need a live target.
var ErrNotRunning = errors.New("target is not running")

// SpawnError wraps an OS refusal to create the target process. It is
// fatal to that start attempt only; the supervisor stays usable.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn target: %v", e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// EvalTimeoutError reports that an evaluation got no response within its
// bound. The request is abandoned; a late response for its id is
// silently discarded.
type EvalTimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *EvalTimeoutError) Error() string {
	return fmt.Sprintf("evaluation %s timed out after %s", e.ID, e.Timeout)
}
