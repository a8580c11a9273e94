package payments

import (
	"errors"
	"fmt"
)

var (
	ErrIdentityNotRecognized = errors.New("identity not recognized")
	ErrRecipientNotFound     = errors.New("recipient not found")
	ErrFeatureDisabled       = errors.New("face payments have been disabled")
	ErrInsufficientFunds     = errors.New("insufficient balance")
	ErrAlreadySettled        = errors.New("transaction was already successful")
	ErrAlreadyHandled        = errors.New("transaction already handled")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrUpstreamMatcher       = errors.New("face matcher failure")
	ErrBadInput              = errors.New("invalid payment request")
	ErrNotOwner              = errors.New("not owner of source wallet")
)

// RejectionError is a business outcome that stops a payment. It wraps one of
// the sentinel errors above and carries the transaction reference when a
// transaction row exists, so the client can poll or approve instead of
// rescanning a face.
type RejectionError struct {
	Kind      error
	Message   string
	Reference string
}

func (e *RejectionError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("%s (reference %s)", e.Message, e.Reference)
	}
	return e.Message
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

func reject(kind error, message, reference string) *RejectionError {
	if message == "" {
		message = kind.Error()
	}
	return &RejectionError{Kind: kind, Message: message, Reference: reference}
}
