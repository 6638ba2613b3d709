package observability

import (
	"errors"
	"fmt"
	"sync"
)

// StepErrors collects failures from the named steps of a multi-step procedure
// such as shutdown. Nil errors are ignored. It is safe for concurrent use.
type StepErrors struct {
	op string

	mu    sync.Mutex
	steps []string
	errs  []error
}

// NewStepErrors starts a collector for op.
func NewStepErrors(op string) *StepErrors {
	return &StepErrors{op: op}
}

// Record notes the outcome of step.
func (s *StepErrors) Record(step string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	s.errs = append(s.errs, fmt.Errorf("%s: %w", step, err))
}

// Err logs the recorded failures once and returns them joined, or nil when
// every step succeeded. A nil logger falls back to Log().
func (s *StepErrors) Err(logger Logger) error {
	s.mu.Lock()
	steps := append([]string(nil), s.steps...)
	failed := append([]error(nil), s.errs...)
	s.mu.Unlock()

	if len(failed) == 0 {
		return nil
	}
	if logger == nil {
		logger = Log()
	}
	logger.Error(s.op+" finished with failures",
		F("operation", s.op),
		F("failed_steps", steps),
		F("failures", len(failed)))
	return fmt.Errorf("%s: %w", s.op, errors.Join(failed...))
}
