// Package domain contains the entitlement snapshot and subscription
// sync contracts.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// SubscriptionStatus is the workspace billing state copied from the
// payments provider.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCanceled  SubscriptionStatus = "canceled"
	StatusSuspended SubscriptionStatus = "suspended"
)

// ParseSubscriptionStatus maps a provider status onto the allowed
// set. Anything else is ErrUnknownStatus and must not be persisted.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(raw) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled, StatusSuspended:
		return SubscriptionStatus(raw), nil
	}
	return "", ErrUnknownStatus
}

// PaymentRestricted reports whether reads by non-admins are blocked
// until billing is fixed.
func (s SubscriptionStatus) PaymentRestricted() bool {
	return s == StatusPastDue || s == StatusSuspended
}

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodAnnual  = "annual"
)

// PlanLimits is the per-workspace entitlement snapshot persisted as a
// JSON column so limit checks never call the payments provider.
// Unknown keys survive a read-modify-write cycle; strict decoding is
// only applied to externally supplied payloads.
type PlanLimits struct {
	MaxProducts   *int64 `json:"max_products"`
	MaxProjects   *int64 `json:"max_projects"`
	MaxComponents *int64 `json:"max_components"`
	MaxUsers      *int64 `json:"max_users"`

	SubscriptionStatus     SubscriptionStatus `json:"subscription_status"`
	StripeCustomerID       string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID   string             `json:"stripe_subscription_id,omitempty"`
	BillingPeriod          string             `json:"billing_period,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end,omitempty"`
	ScheduledDowngradePlan string             `json:"scheduled_downgrade_plan,omitempty"`

	IsTrial  bool       `json:"is_trial,omitempty"`
	TrialEnd *time.Time `json:"trial_end,omitempty"`

	LastPaymentAmount   *int64     `json:"last_payment_amount,omitempty"`
	LastPaymentCurrency string     `json:"last_payment_currency,omitempty"`
	NextBillingDate     *time.Time `json:"next_billing_date,omitempty"`

	LastUpdated time.Time `json:"last_updated"`

	extra map[string]json.RawMessage
}

// knownLimitKeys mirrors the json tags above.
var knownLimitKeys = map[string]struct{}{
	"max_products": {}, "max_projects": {}, "max_components": {}, "max_users": {},
	"subscription_status": {}, "stripe_customer_id": {}, "stripe_subscription_id": {},
	"billing_period": {}, "cancel_at_period_end": {}, "scheduled_downgrade_plan": {},
	"is_trial": {}, "trial_end": {},
	"last_payment_amount": {}, "last_payment_currency": {}, "next_billing_date": {},
	"last_updated": {},
}

type planLimitsAlias PlanLimits

// UnmarshalJSON keeps keys it does not understand so a newer writer's
// snapshot is not destroyed by an older reader.
func (p *PlanLimits) UnmarshalJSON(data []byte) error {
	var alias planLimitsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := knownLimitKeys[key]; ok {
			delete(raw, key)
		}
	}

	*p = PlanLimits(alias)
	if len(raw) > 0 {
		p.extra = raw
	}
	return nil
}

func (p PlanLimits) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(planLimitsAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// DecodeStrictPlanLimits parses an externally supplied snapshot and
// rejects keys outside the schema.
func DecodeStrictPlanLimits(data []byte) (*PlanLimits, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrInvalidSnapshot
	}
	for key := range raw {
		if _, ok := knownLimitKeys[key]; !ok {
			return nil, ErrInvalidSnapshot
		}
	}

	var limits PlanLimits
	if err := json.Unmarshal(data, &limits); err != nil {
		return nil, ErrInvalidSnapshot
	}
	return &limits, nil
}

var (
	ErrUnknownStatus   = errors.New("unknown_status")
	ErrInvalidSnapshot = errors.New("invalid_snapshot")
)
