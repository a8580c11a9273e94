// Package policy decides whether a recognised, funded face payment settles
// immediately, waits for the payer's confirmation, or is held for review.
package policy

import (
	"math"

	"github.com/shopspring/decimal"
)

// Kind is the terminal decision produced by the gate.
type Kind string

const (
	KindSettle              Kind = "settle"
	KindPendingConfirmation Kind = "pending_confirmation"
	KindPendingReview       Kind = "pending_review"
	KindRejected            Kind = "rejected"
)

// Reason explains why a rule fired.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonRecipientNotFound    Reason = "recipient_not_found"
	ReasonFeatureDisabled      Reason = "feature_disabled"
	ReasonInsufficientFunds    Reason = "insufficient_funds"
	ReasonLocationMismatch     Reason = "location_mismatch"
	ReasonConfirmationRequired Reason = "confirmation_required"
)

const earthRadiusKM = 6371.0

// Inputs is everything the rules look at. It is a plain value so each rule is
// a pure function of it.
type Inputs struct {
	RecipientFound      bool
	FacePaymentsEnabled bool
	Balance             decimal.Decimal
	Amount              decimal.Decimal
	DistanceKM          float64
	ThresholdKM         float64
	AlwaysConfirm       bool
}

// Outcome is the gate's decision.
type Outcome struct {
	Kind   Kind
	Reason Reason
	// Rule names the rule that fired, empty when the payment settles.
	Rule string
}

// Rule returns a terminal outcome and true, or false to let evaluation continue.
type Rule struct {
	Name  string
	Check func(Inputs) (Outcome, bool)
}

// DefaultRules returns the face-pay rules in evaluation order. Funds are
// checked before the geofence so an underfunded attempt fails without
// revealing anything about location.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "recipient_exists", Check: func(in Inputs) (Outcome, bool) {
			return reject(ReasonRecipientNotFound), !in.RecipientFound
		}},
		{Name: "face_payments_enabled", Check: func(in Inputs) (Outcome, bool) {
			return reject(ReasonFeatureDisabled), !in.FacePaymentsEnabled
		}},
		{Name: "sufficient_funds", Check: func(in Inputs) (Outcome, bool) {
			return reject(ReasonInsufficientFunds), in.Balance.LessThan(in.Amount)
		}},
		{Name: "geofence", Check: func(in Inputs) (Outcome, bool) {
			return Outcome{Kind: KindPendingReview, Reason: ReasonLocationMismatch}, !InProximity(in.DistanceKM, in.ThresholdKM)
		}},
		{Name: "always_confirm", Check: func(in Inputs) (Outcome, bool) {
			return Outcome{Kind: KindPendingConfirmation, Reason: ReasonConfirmationRequired}, in.AlwaysConfirm
		}},
	}
}

// Gate evaluates rules in order and stops at the first one that fires.
type Gate struct {
	rules []Rule
}

// NewGate builds a gate over the given rules, or DefaultRules when none are given.
func NewGate(rules ...Rule) *Gate {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Gate{rules: rules}
}

// Evaluate returns the first terminal outcome, or KindSettle when no rule fires.
func (g *Gate) Evaluate(in Inputs) Outcome {
	for _, rule := range g.rules {
		if out, stop := rule.Check(in); stop {
			out.Rule = rule.Name
			return out
		}
	}
	return Outcome{Kind: KindSettle}
}

// Haversine returns the great-circle distance in kilometres between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InProximity reports whether distance is within threshold. The boundary counts as inside.
func InProximity(distanceKM, thresholdKM float64) bool {
	return distanceKM <= thresholdKM
}

func reject(reason Reason) Outcome {
	return Outcome{Kind: KindRejected, Reason: reason}
}
