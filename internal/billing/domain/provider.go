package domain

import (
	"context"
	"errors"
	"time"
)

// CheckoutSession is the provider's view of a completed checkout.
type CheckoutSession struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	PaymentStatus  string
	Metadata       map[string]string
}

// Subscription is the provider's view of a running subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	Interval          string
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
}

// Provider is the outbound payments API surface the sync engine
// pulls from. Calls carry bounded timeouts and translate transport
// failures into ErrProvider.
type Provider interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

var ErrProvider = errors.New("provider_error")
