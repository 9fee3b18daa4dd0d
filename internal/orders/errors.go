package orders

import "fmt"

// Pipeline step names used in TransitionError.
const (
	StepAcknowledge      = "acknowledge"
	StepAccept           = "accept"
	StepDecline          = "decline"
	StepProcessingStart  = "processing-start"
	StepProcessingFinish = "processing-finish"
	StepDeliveryStart    = "delivery-start"
	StepDeliveryFinish   = "delivery-finish"
	StepComplete         = "complete"
)

// TransitionError reports a failed order transition. It is fatal to the
// affected fulfillment's pipeline only; the poller and other orders are
// unaffected.
type TransitionError struct {
	Name  string
	Step  string
	Cause error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: %s failed: %v", e.Name, e.Step, e.Cause)
}

func (e *TransitionError) Unwrap() error {
	return e.Cause
}
