package funding

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const decisionApproved = "approved"

// Acquirer represents a connector to an external card processor.
type Acquirer interface {
	AuthorizeCardIn(ctx context.Context, input CardInAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision captures the acquirer's response.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// Approved reports whether the acquirer accepted the charge.
func (d AuthorizationDecision) Approved() bool {
	return d.Status == decisionApproved
}

// CardInAuthorization encapsulates details needed for a card top-up authorization.
type CardInAuthorization struct {
	CardNumber string
	Expiry     string
	CVV        string
	Amount     decimal.Decimal
	Currency   string
}

// StaticAcquirer approves every charge with a synthetic reference. It stands
// in for a processor in development and tests.
type StaticAcquirer struct{}

// AuthorizeCardIn approves the funding request.
func (StaticAcquirer) AuthorizeCardIn(_ context.Context, _ CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: "ACQ-" + uuid.NewString(), Status: decisionApproved}, nil
}
