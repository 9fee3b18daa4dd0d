// Package names builds and parses the resource names of the vendor API.
// Fulfillments live under their vendor: "vendors/{vendor}/fulfillments/{order}".
// The server treats names as opaque; the CLI takes them apart only for
// display and for accepting bare order IDs as arguments.
package names

import (
	"fmt"
	"strings"
)

const (
	vendorCollection      = "vendors"
	fulfillmentCollection = "fulfillments"
)

// Vendor returns the resource name of a vendor.
func Vendor(vendorID string) string {
	return vendorCollection + "/" + vendorID
}

// Fulfillment returns the resource name of an order fulfillment.
func Fulfillment(vendorID, orderID string) string {
	return Vendor(vendorID) + "/" + fulfillmentCollection + "/" + orderID
}

// ParseFulfillment splits a fulfillment resource name into its vendor and
// order IDs. It fails on anything that is not exactly
// "vendors/{vendor}/fulfillments/{order}" with non-empty segments.
func ParseFulfillment(name string) (vendorID, orderID string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != vendorCollection || parts[2] != fulfillmentCollection {
		return "", "", fmt.Errorf("not a fulfillment name: %q", name)
	}
	if parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("not a fulfillment name: %q", name)
	}
	return parts[1], parts[3], nil
}

// IsFulfillment reports whether name is a well-formed fulfillment name.
func IsFulfillment(name string) bool {
	_, _, err := ParseFulfillment(name)
	return err == nil
}

// OrderLabel returns the short order ID for display, falling back to the
// full name when it does not parse.
func OrderLabel(name string) string {
	if _, orderID, err := ParseFulfillment(name); err == nil {
		return orderID
	}
	return name
}
