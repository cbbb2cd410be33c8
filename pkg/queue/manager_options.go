package queue

import (
	"fmt"
	"log/slog"
	"time"
)

// ManagerOption is a functional option for configuring a Manager.
type ManagerOption func(*managerOptions) error

type managerOptions struct {
	handlers        map[OperationType]Handler
	maxRetries      int
	defaultPriority int
	backoffGate     bool
	jitter          float64
	now             func() time.Time
	logger          *slog.Logger
}

// WithHandlers registers the operation handlers. Each handler serves the
// type it reports via Type(); registering two handlers for the same type is
// an error rather than a silent override.
func WithHandlers(handlers ...Handler) ManagerOption {
	return func(o *managerOptions) error {
		if o.handlers == nil {
			o.handlers = make(map[OperationType]Handler, len(handlers))
		}
		for _, h := range handlers {
			if h == nil {
				return ErrHandlerNil
			}
			if _, exists := o.handlers[h.Type()]; exists {
				return fmt.Errorf("duplicate handler for operation type %q", h.Type())
			}
			o.handlers[h.Type()] = h
		}
		return nil
	}
}

// WithMaxRetries overrides the retry budget per operation.
func WithMaxRetries(n int) ManagerOption {
	return func(o *managerOptions) error {
		if n > 0 {
			o.maxRetries = n
		}
		return nil
	}
}

// WithDefaultPriority sets the priority assigned by Enqueue when the caller
// does not pass WithPriority.
func WithDefaultPriority(priority int) ManagerOption {
	return func(o *managerOptions) error {
		o.defaultPriority = priority
		return nil
	}
}

// WithBackoffGate makes the drain pass skip pending operations whose
// NextRetryAt has not elapsed yet. Off by default: without the gate a
// backoff-scheduled record may be retried on the very next drain pass if
// the application drains frequently.
func WithBackoffGate() ManagerOption {
	return func(o *managerOptions) error {
		o.backoffGate = true
		return nil
	}
}

// WithJitter randomizes each backoff delay by ±fraction (0 < fraction <= 1)
// so that many clients recovering from the same outage do not retry in
// lockstep.
func WithJitter(fraction float64) ManagerOption {
	return func(o *managerOptions) error {
		if fraction < 0 || fraction > 1 {
			return fmt.Errorf("jitter fraction %v out of range [0, 1]", fraction)
		}
		o.jitter = fraction
		return nil
	}
}

// WithTimeNow replaces the time source, enabling deterministic backoff and
// eligibility tests.
func WithTimeNow(now func() time.Time) ManagerOption {
	return func(o *managerOptions) error {
		if now != nil {
			o.now = now
		}
		return nil
	}
}

// WithLogger sets the logger for the manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// EnqueueOption is a functional option for the Enqueue method.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority int
}

// WithPriority sets the priority for the enqueued operation. Higher values
// are drained first.
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}
