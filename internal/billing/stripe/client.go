package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sbomify/sbomify/internal/billing/domain"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.stripe.com"

// Client pulls provider objects over REST. It implements
// domain.Provider.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(secretKey string, log *zap.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log.Named("billing.stripe"),
	}
}

// WithBaseURL points the client at a different origin; used by tests.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = base
	return c
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	var session CheckoutSession
	if err := c.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(sessionID), &session); err != nil {
		return nil, err
	}
	return &domain.CheckoutSession{
		ID:             session.ID,
		SubscriptionID: session.Subscription,
		CustomerID:     session.Customer,
		PaymentStatus:  session.PaymentStatus,
		Metadata:       session.Metadata,
	}, nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	var sub Subscription
	if err := c.get(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), &sub); err != nil {
		return nil, err
	}
	return &domain.Subscription{
		ID:                sub.ID,
		CustomerID:        sub.Customer,
		Status:            sub.Status,
		PriceID:           sub.PriceID(),
		Interval:          sub.Interval(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
		CurrentPeriodEnd:  unixTime(sub.CurrentPeriodEnd),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("provider request failed", zap.Error(err), zap.String("path", path))
		return domain.ErrProvider
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ErrProvider
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("provider request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("path", path),
		)
		return fmt.Errorf("%w: status %d", domain.ErrProvider, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.ErrProvider
	}
	return nil
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
