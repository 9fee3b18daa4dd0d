package orders

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omas-app/omas-vendor-go/internal/models"
)

// Default estimates sent when accepting an order, matching what the
// vendor expects from a small demo kitchen.
const (
	packagingEstimate     = 5 * time.Minute
	deliveryEstimate      = time.Hour
	deliveryStartEstimate = 5 * time.Minute
)

// TransitionAPI is the slice of the vendor API the driver consumes.
type TransitionAPI interface {
	ConfirmOrder(ctx context.Context, name string, req models.ConfirmOrderRequest) (*models.Fulfillment, error)
	ProcessOrder(ctx context.Context, name string, req models.ProcessOrderRequest) (*models.Fulfillment, error)
	DeliverOrder(ctx context.Context, name string, req models.DeliverOrderRequest) (*models.Fulfillment, error)
	CompleteOrder(ctx context.Context, name string, req models.CompleteOrderRequest) (*models.Fulfillment, error)
}

// Driver advances fulfillments through their lifecycle. Dispatch reacts
// to each polled observation; accepted orders run their simulated
// processing/delivery pipeline on a tracked background goroutine, at most
// one per fulfillment name.
type Driver struct {
	api       TransitionAPI
	decisions DecisionProvider
	log       zerolog.Logger

	declineReason      string
	minDelay, maxDelay time.Duration
	now                func() time.Time
	sleep              func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// DriverOption customizes Driver creation.
type DriverOption func(*Driver)

// WithDelayRange bounds the random waits simulating kitchen work.
// Tests pass (0, 0) for an immediate pipeline.
func WithDelayRange(minDelay, maxDelay time.Duration) DriverOption {
	return func(d *Driver) {
		d.minDelay, d.maxDelay = minDelay, maxDelay
	}
}

// WithDeclineReason sets the reason string sent with declines.
func WithDeclineReason(reason string) DriverOption {
	return func(d *Driver) {
		if reason != "" {
			d.declineReason = reason
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDriver creates a fulfillment driver.
func NewDriver(api TransitionAPI, decisions DecisionProvider, log zerolog.Logger, opts ...DriverOption) *Driver {
	d := &Driver{
		api:           api,
		decisions:     decisions,
		log:           log,
		declineReason: "vendor closed",
		minDelay:      5 * time.Second,
		maxDelay:      30 * time.Second,
		now:           time.Now,
		sleep: func(ctx context.Context, delay time.Duration) error {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
		active: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch reacts to one polled fulfillment observation. It returns an
// error only for the synchronous transition it performs; pipeline
// failures are logged by the pipeline goroutine itself.
func (d *Driver) Dispatch(ctx context.Context, f models.Fulfillment) error {
	switch f.State {
	case models.StatePending:
		// Acknowledge receipt; the accept/decline decision happens on the
		// next observation, once the vendor moves the order to RECEIVED.
		_, err := d.api.ConfirmOrder(ctx, f.Name, models.ConfirmOrderRequest{Ack: &models.Empty{}})
		if err != nil {
			return &TransitionError{Name: f.Name, Step: StepAcknowledge, Cause: err}
		}
		d.log.Info().Str("order", f.Name).Msg("order acknowledged")
		return nil

	case models.StateReceived:
		decision, err := d.decisions.Decide(ctx, f)
		if err != nil {
			d.log.Warn().Str("order", f.Name).Err(err).Msg("decision unavailable, declining")
			decision = Declined
		}
		if decision != Accepted {
			return d.decline(ctx, f)
		}
		return d.accept(ctx, f)

	default:
		// Unknown and in-flight states carry no local action; the vendor
		// may add states we have never seen.
		d.log.Debug().Str("order", f.Name).Str("state", string(f.State)).Msg("no action for state")
		return nil
	}
}

func (d *Driver) decline(ctx context.Context, f models.Fulfillment) error {
	_, err := d.api.ConfirmOrder(ctx, f.Name, models.ConfirmOrderRequest{Decline: d.declineReason})
	if err != nil {
		return &TransitionError{Name: f.Name, Step: StepDecline, Cause: err}
	}
	d.log.Info().Str("order", f.Name).Str("reason", d.declineReason).Msg("order declined")
	return nil
}

func (d *Driver) accept(ctx context.Context, f models.Fulfillment) error {
	now := d.now()
	_, err := d.api.ConfirmOrder(ctx, f.Name, models.ConfirmOrderRequest{
		Accept: &models.ConfirmAccept{
			PackagingTime: now.Add(packagingEstimate),
			DeliveryTime:  now.Add(deliveryEstimate),
		},
	})
	if err != nil {
		return &TransitionError{Name: f.Name, Step: StepAccept, Cause: err}
	}
	d.log.Info().Str("order", f.Name).Msg("order accepted")

	d.mu.Lock()
	if _, running := d.active[f.Name]; running {
		d.mu.Unlock()
		d.log.Debug().Str("order", f.Name).Msg("pipeline already running")
		return nil
	}
	d.active[f.Name] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			d.mu.Lock()
			delete(d.active, f.Name)
			d.mu.Unlock()
		}()
		if err := d.fulfill(ctx, f.Name); err != nil {
			var terr *TransitionError
			if errors.As(err, &terr) {
				d.log.Error().
					Str("order", terr.Name).
					Str("step", terr.Step).
					Err(terr.Cause).
					Msg("fulfillment pipeline aborted")
				return
			}
			d.log.Error().Str("order", f.Name).Err(err).Msg("fulfillment pipeline aborted")
		}
	}()
	return nil
}

// fulfill runs the simulated processing and delivery pipeline for one
// accepted order. Steps execute strictly in sequence; a failed step
// aborts the rest. The vendor remains the source of truth for where the
// order ended up, so there is no local resume after a failure.
func (d *Driver) fulfill(ctx context.Context, name string) error {
	// Processing
	d.log.Info().Str("order", name).Msg("order idle simulation")
	if err := d.pause(ctx); err != nil {
		return err
	}
	if _, err := d.api.ProcessOrder(ctx, name, models.ProcessOrderRequest{Completed: false}); err != nil {
		return &TransitionError{Name: name, Step: StepProcessingStart, Cause: err}
	}

	d.log.Info().Str("order", name).Msg("order processing")
	if err := d.pause(ctx); err != nil {
		return err
	}
	if _, err := d.api.ProcessOrder(ctx, name, models.ProcessOrderRequest{Completed: true}); err != nil {
		return &TransitionError{Name: name, Step: StepProcessingFinish, Cause: err}
	}
	d.log.Info().Str("order", name).Msg("order processed")

	// Delivery
	if err := d.pause(ctx); err != nil {
		return err
	}
	if _, err := d.api.DeliverOrder(ctx, name, models.DeliverOrderRequest{
		Delivery: &models.Delivery{Time: d.now().Add(deliveryStartEstimate)},
	}); err != nil {
		return &TransitionError{Name: name, Step: StepDeliveryStart, Cause: err}
	}

	d.log.Info().Str("order", name).Msg("order delivering")
	if err := d.pause(ctx); err != nil {
		return err
	}
	if _, err := d.api.DeliverOrder(ctx, name, models.DeliverOrderRequest{
		Delivery:  &models.Delivery{Time: d.now()},
		Completed: true,
	}); err != nil {
		return &TransitionError{Name: name, Step: StepDeliveryFinish, Cause: err}
	}
	d.log.Info().Str("order", name).Msg("order delivered")

	// Completion. Settlement stays empty: the vendor settles through the
	// default payment channel unless overridden.
	if _, err := d.api.CompleteOrder(ctx, name, models.CompleteOrderRequest{}); err != nil {
		return &TransitionError{Name: name, Step: StepComplete, Cause: err}
	}
	d.log.Info().Str("order", name).Msg("order completing")
	return nil
}

// pause waits a bounded random interval, observing cancellation.
func (d *Driver) pause(ctx context.Context) error {
	delay := d.minDelay
	if d.maxDelay > d.minDelay {
		delay += rand.N(d.maxDelay - d.minDelay)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	return d.sleep(ctx, delay)
}

// Active reports the number of pipelines currently running.
func (d *Driver) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Wait blocks until every tracked pipeline finishes or the timeout
// elapses. A pipeline cut off mid-flight is an accepted loss; the vendor
// keeps the order's true state.
func (d *Driver) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
