package orders

import (
	"context"
	"sync"
	"time"

	"github.com/omas-app/omas-vendor-go/internal/models"
)

// Decision is the operator's verdict on a received order.
type Decision int

const (
	Declined Decision = iota
	Accepted
)

// DecisionProvider supplies the accept/decline decision for an order in
// RECEIVED state. Implementations must return within a bounded time;
// prompting implementations default to Declined when the operator does
// not answer.
type DecisionProvider interface {
	Decide(ctx context.Context, f models.Fulfillment) (Decision, error)
}

// DecisionFunc adapts a function to the DecisionProvider interface.
type DecisionFunc func(ctx context.Context, f models.Fulfillment) (Decision, error)

func (fn DecisionFunc) Decide(ctx context.Context, f models.Fulfillment) (Decision, error) {
	return fn(ctx, f)
}

// PromptDecider asks the operator through an interactive prompt, falling
// back to decline when the bounded wait elapses. The timeout can be
// adjusted at runtime (config reload).
type PromptDecider struct {
	prompt func(name string, timeout time.Duration) (bool, error)

	mu      sync.Mutex
	timeout time.Duration
}

// NewPromptDecider wraps a prompt function such as tui.ConfirmOrder.
func NewPromptDecider(prompt func(name string, timeout time.Duration) (bool, error), timeout time.Duration) *PromptDecider {
	return &PromptDecider{prompt: prompt, timeout: timeout}
}

// SetTimeout changes the bounded wait for subsequent decisions.
func (d *PromptDecider) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

func (d *PromptDecider) Decide(ctx context.Context, f models.Fulfillment) (Decision, error) {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()

	accept, err := d.prompt(f.Name, timeout)
	if err != nil {
		// An unanswerable prompt declines rather than stalling the order.
		return Declined, nil
	}
	if accept {
		return Accepted, nil
	}
	return Declined, nil
}
