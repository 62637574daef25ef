package service

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of order fulfillment failure. Match them with errors.Is.
var (
	// ErrInvalidRequest is a malformed request: no lines, a non-positive
	// quantity, or a missing identifier.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrProductNotFound means one or more referenced products do not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock means a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrentModification means a concurrent order or catalog edit won
	// the race for a product. Nothing was committed; the caller may retry.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrStoreUnavailable is a failure of an underlying store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// FulfillmentError carries the failure kind plus the offending product ids.
// Cause is the earlier failure a compensation was undoing. It is part of the
// message but not of the error chain, so the error matches only its own Kind.
type FulfillmentError struct {
	Kind       error
	ProductIDs []string
	Reason     string
	Cause      error
	Err        error
}

func (e *FulfillmentError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}

	if len(e.ProductIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.ProductIDs, ", "))
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *FulfillmentError) Is(target error) bool {
	return target == e.Kind
}

func (e *FulfillmentError) Unwrap() error {
	return e.Err
}

func invalidRequest(reason string, productIDs ...string) error {
	return &FulfillmentError{Kind: ErrInvalidRequest, Reason: reason, ProductIDs: productIDs}
}

func storeUnavailable(op string, err error) error {
	return &FulfillmentError{Kind: ErrStoreUnavailable, Reason: op, Err: err}
}

// OffendingProducts returns the product ids attached to a fulfillment error.
func OffendingProducts(err error) []string {
	var fe *FulfillmentError
	if errors.As(err, &fe) {
		return fe.ProductIDs
	}

	return nil
}
