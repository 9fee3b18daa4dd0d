package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omas-app/omas-vendor-go/internal/models"
)

// call records one transition issued against the fake API.
type call struct {
	verb string
	name string
	body any
}

// fakeAPI records transitions and optionally fails scripted verbs.
type fakeAPI struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error // verb -> error
	gate  chan struct{}    // when set, process blocks until closed
}

func (a *fakeAPI) record(verb, name string, body any) (*models.Fulfillment, error) {
	a.mu.Lock()
	a.calls = append(a.calls, call{verb: verb, name: name, body: body})
	err := a.fail[verb]
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &models.Fulfillment{Name: name}, nil
}

func (a *fakeAPI) ConfirmOrder(ctx context.Context, name string, req models.ConfirmOrderRequest) (*models.Fulfillment, error) {
	return a.record("confirm", name, req)
}

func (a *fakeAPI) ProcessOrder(ctx context.Context, name string, req models.ProcessOrderRequest) (*models.Fulfillment, error) {
	if a.gate != nil {
		<-a.gate
	}
	return a.record("process", name, req)
}

func (a *fakeAPI) DeliverOrder(ctx context.Context, name string, req models.DeliverOrderRequest) (*models.Fulfillment, error) {
	return a.record("deliver", name, req)
}

func (a *fakeAPI) CompleteOrder(ctx context.Context, name string, req models.CompleteOrderRequest) (*models.Fulfillment, error) {
	return a.record("complete", name, req)
}

func (a *fakeAPI) snapshot() []call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]call(nil), a.calls...)
}

func (a *fakeAPI) verbs() []string {
	var verbs []string
	for _, c := range a.snapshot() {
		verbs = append(verbs, c.verb)
	}
	return verbs
}

func alwaysDecide(d Decision) DecisionProvider {
	return DecisionFunc(func(ctx context.Context, f models.Fulfillment) (Decision, error) {
		return d, nil
	})
}

func testDriver(api TransitionAPI, decisions DecisionProvider, opts ...DriverOption) *Driver {
	opts = append([]DriverOption{WithDelayRange(0, 0)}, opts...)
	return NewDriver(api, decisions, zerolog.Nop(), opts...)
}

const orderName = "vendors/demo-vendor/fulfillments/1"

func TestDispatchPendingAcknowledges(t *testing.T) {
	api := &fakeAPI{}
	d := testDriver(api, alwaysDecide(Accepted))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StatePending))
	require.NoError(t, err)
	require.True(t, d.Wait(time.Second))

	calls := api.snapshot()
	require.Len(t, calls, 1, "PENDING must only be acknowledged")
	assert.Equal(t, "confirm", calls[0].verb)
	assert.Equal(t, orderName, calls[0].name)

	req := calls[0].body.(models.ConfirmOrderRequest)
	assert.NotNil(t, req.Ack)
	assert.Nil(t, req.Accept)
	assert.Empty(t, req.Decline)
}

func TestDispatchReceivedDeclined(t *testing.T) {
	api := &fakeAPI{}
	d := testDriver(api, alwaysDecide(Declined), WithDeclineReason("kitchen overloaded"))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StateReceived))
	require.NoError(t, err)
	require.True(t, d.Wait(time.Second))

	calls := api.snapshot()
	require.Len(t, calls, 1, "a declined order must see no further transitions")
	req := calls[0].body.(models.ConfirmOrderRequest)
	assert.Equal(t, "kitchen overloaded", req.Decline)
	assert.Nil(t, req.Accept)
}

func TestDispatchDecisionErrorDeclines(t *testing.T) {
	api := &fakeAPI{}
	d := testDriver(api, DecisionFunc(func(ctx context.Context, f models.Fulfillment) (Decision, error) {
		return Accepted, errors.New("prompt unavailable")
	}))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StateReceived))
	require.NoError(t, err)

	calls := api.snapshot()
	require.Len(t, calls, 1)
	req := calls[0].body.(models.ConfirmOrderRequest)
	assert.NotEmpty(t, req.Decline, "an unanswerable decision must decline")
}

func TestDispatchAcceptedRunsFullPipeline(t *testing.T) {
	api := &fakeAPI{}
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d := testDriver(api, alwaysDecide(Accepted), WithClock(func() time.Time { return now }))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StateReceived))
	require.NoError(t, err)
	require.True(t, d.Wait(2*time.Second), "pipeline did not finish")

	assert.Equal(t, []string{"confirm", "process", "process", "deliver", "deliver", "complete"}, api.verbs())

	calls := api.snapshot()

	accept := calls[0].body.(models.ConfirmOrderRequest).Accept
	require.NotNil(t, accept)
	assert.Equal(t, now.Add(packagingEstimate), accept.PackagingTime)
	assert.Equal(t, now.Add(deliveryEstimate), accept.DeliveryTime)

	assert.False(t, calls[1].body.(models.ProcessOrderRequest).Completed)
	assert.True(t, calls[2].body.(models.ProcessOrderRequest).Completed)

	deliverStart := calls[3].body.(models.DeliverOrderRequest)
	assert.False(t, deliverStart.Completed)
	require.NotNil(t, deliverStart.Delivery)
	assert.Equal(t, now.Add(deliveryStartEstimate), deliverStart.Delivery.Time)

	deliverEnd := calls[4].body.(models.DeliverOrderRequest)
	assert.True(t, deliverEnd.Completed)
	require.NotNil(t, deliverEnd.Delivery)
	assert.Equal(t, now, deliverEnd.Delivery.Time)

	complete := calls[5].body.(models.CompleteOrderRequest)
	assert.Nil(t, complete.Settlement)
}

func TestDispatchUnknownStateNoAction(t *testing.T) {
	api := &fakeAPI{}
	d := testDriver(api, alwaysDecide(Accepted))

	for _, state := range []models.FulfillmentState{
		models.StateProcessing,
		models.StateDelivering,
		models.StateCompleted,
		models.FulfillmentState("SOMETHING_NEW"),
	} {
		require.NoError(t, d.Dispatch(context.Background(), fulfillment(orderName, state)))
	}

	assert.Empty(t, api.snapshot(), "in-flight and unknown states need no local action")
}

func TestPipelineAbortsAfterStepFailure(t *testing.T) {
	api := &fakeAPI{fail: map[string]error{"deliver": errors.New("boom")}}
	d := testDriver(api, alwaysDecide(Accepted))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StateReceived))
	require.NoError(t, err)
	require.True(t, d.Wait(2*time.Second))

	// confirm, process x2, then the failing deliver; nothing after.
	assert.Equal(t, []string{"confirm", "process", "process", "deliver"}, api.verbs())
}

func TestDispatchAckFailureReturnsTransitionError(t *testing.T) {
	api := &fakeAPI{fail: map[string]error{"confirm": errors.New("boom")}}
	d := testDriver(api, alwaysDecide(Accepted))

	err := d.Dispatch(context.Background(), fulfillment(orderName, models.StatePending))
	require.Error(t, err)

	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, orderName, terr.Name)
	assert.Equal(t, StepAcknowledge, terr.Step)
}

func TestDispatchDeduplicatesRunningPipeline(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{gate: gate}
	d := testDriver(api, alwaysDecide(Accepted))

	ctx := context.Background()
	f := fulfillment(orderName, models.StateReceived)

	require.NoError(t, d.Dispatch(ctx, f))
	// Second observation of the same order while its pipeline is blocked
	// on the gate: confirmed again, but no second pipeline.
	require.NoError(t, d.Dispatch(ctx, f))
	assert.Equal(t, 1, d.Active())

	close(gate)
	require.True(t, d.Wait(2*time.Second))
	assert.Zero(t, d.Active())

	var completes int
	for _, verb := range api.verbs() {
		if verb == "complete" {
			completes++
		}
	}
	assert.Equal(t, 1, completes, "exactly one pipeline must run per order")
}

func TestWaitTimesOut(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	api := &fakeAPI{gate: gate}
	d := testDriver(api, alwaysDecide(Accepted))

	require.NoError(t, d.Dispatch(context.Background(), fulfillment(orderName, models.StateReceived)))
	assert.False(t, d.Wait(50*time.Millisecond), "Wait must give up while a pipeline is stuck")
}

// End to end: poll feed through the driver, checking the full transition
// sequence for one order that is first seen PENDING and then RECEIVED.
func TestPollAndDriveLifecycle(t *testing.T) {
	api := &fakeAPI{}
	feed := &scriptedFeed{
		pages: []*models.PollOrdersResponse{
			{
				Fulfillments:  []models.Fulfillment{fulfillment(orderName, models.StatePending)},
				NextPageToken: "c1",
			},
			{
				Fulfillments:  []models.Fulfillment{fulfillment(orderName, models.StateReceived)},
				NextPageToken: "c2",
			},
		},
	}
	cursor := &memCursor{}
	p := NewPoller(feed, cursor, "vendors/demo-vendor", time.Millisecond, zerolog.Nop())
	d := testDriver(api, alwaysDecide(Accepted))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := 0
	for f := range p.Orders(ctx) {
		require.NoError(t, d.Dispatch(ctx, f))
		seen++
		if seen == 2 {
			break
		}
	}
	require.True(t, d.Wait(2*time.Second))

	assert.Equal(t, []string{
		"confirm", // ack for PENDING
		"confirm", // accept for RECEIVED
		"process", "process",
		"deliver", "deliver",
		"complete",
	}, api.verbs())
	assert.Equal(t, "c1", cursor.value)
}
