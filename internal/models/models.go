// Package models defines the wire types of the Omas demo-vendor API.
package models

import "time"

// FulfillmentState is the server-side lifecycle state of a fulfillment.
// The vendor may introduce new states at any time; unknown values are
// carried through verbatim and ignored by the order driver.
type FulfillmentState string

const (
	StatePending    FulfillmentState = "PENDING"
	StateReceived   FulfillmentState = "RECEIVED"
	StateAccepted   FulfillmentState = "ACCEPTED"
	StateDeclined   FulfillmentState = "DECLINED"
	StateProcessing FulfillmentState = "PROCESSING"
	StateDelivering FulfillmentState = "DELIVERING"
	StateCompleted  FulfillmentState = "COMPLETED"
)

// Terminal reports whether the state ends the order lifecycle.
func (s FulfillmentState) Terminal() bool {
	return s == StateCompleted || s == StateDeclined
}

// Fulfillment is an order-fulfillment record. The server is authoritative;
// local copies are transient snapshots returned by each API call.
type Fulfillment struct {
	Name       string           `json:"name"`
	State      FulfillmentState `json:"state,omitempty"`
	CreateTime time.Time        `json:"createTime,omitzero"`
	UpdateTime time.Time        `json:"updateTime,omitzero"`
	Packaging  *Packaging       `json:"packaging,omitempty"`
	Delivery   *Delivery        `json:"delivery,omitempty"`
}

// Packaging holds the estimated packaging-complete time.
type Packaging struct {
	Time time.Time `json:"time,omitzero"`
}

// Delivery holds a delivery time, estimated or actual depending on the
// transition that carries it.
type Delivery struct {
	Time time.Time `json:"time,omitzero"`
}

// Settlement optionally overrides how a completed order is settled.
type Settlement struct {
	Payment string `json:"payment,omitempty"`
}

// Info is the response of the vendor info endpoint.
type Info struct {
	User User   `json:"user"`
	Motd string `json:"motd"`
}

// User describes the caller as seen by the vendor API.
type User struct {
	Authenticated bool `json:"authenticated"`
}

// PollOrdersResponse is one page of the fulfillment change feed.
type PollOrdersResponse struct {
	Fulfillments  []Fulfillment `json:"fulfillments"`
	NextPageToken string        `json:"nextPageToken"`
}

// Empty is an intentionally empty message, used for bare acknowledgements.
type Empty struct{}

// ConfirmAccept carries the vendor's estimates when accepting an order.
type ConfirmAccept struct {
	PackagingTime time.Time `json:"packagingTime"`
	DeliveryTime  time.Time `json:"deliveryTime"`
}

// ConfirmOrderRequest acknowledges, accepts or declines an order.
// Exactly one of the three fields is set.
type ConfirmOrderRequest struct {
	Ack     *Empty         `json:"ack,omitempty"`
	Accept  *ConfirmAccept `json:"accept,omitempty"`
	Decline string         `json:"decline,omitempty"`
}

// ProcessOrderRequest marks processing as started (false) or finished (true).
type ProcessOrderRequest struct {
	Completed bool `json:"completed"`
}

// DeliverOrderRequest marks delivery as started (with a new estimate) or
// finished (with the actual delivery time).
type DeliverOrderRequest struct {
	Delivery  *Delivery `json:"delivery,omitempty"`
	Completed bool      `json:"completed"`
}

// CompleteOrderRequest finalizes an order. Settlement is optional; when
// empty the vendor settles through the default payment channel.
type CompleteOrderRequest struct {
	Settlement *Settlement `json:"settlement,omitempty"`
}
