package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/billing/stripe"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	identityrepo "github.com/sbomify/sbomify/internal/identity/repository"
	identityservice "github.com/sbomify/sbomify/internal/identity/service"
	"github.com/sbomify/sbomify/internal/providers/email"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	workspacerepo "github.com/sbomify/sbomify/internal/workspace/repository"
	"github.com/sbomify/sbomify/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const webhookSecret = "whsec_test"

type fakeProvider struct {
	sessions map[string]*domain.CheckoutSession
	subs     map[string]*domain.Subscription
}

func (p *fakeProvider) GetCheckoutSession(_ context.Context, id string) (*domain.CheckoutSession, error) {
	if s, ok := p.sessions[id]; ok {
		return s, nil
	}
	return nil, domain.ErrProvider
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	if s, ok := p.subs[id]; ok {
		return s, nil
	}
	return nil, domain.ErrProvider
}

type fakeCounter struct {
	counts map[domain.ResourceKind]int64
}

func (c *fakeCounter) CountResources(_ context.Context, _ snowflake.ID, kind domain.ResourceKind) (int64, error) {
	return c.counts[kind], nil
}

type fixture struct {
	svc        domain.Service
	workspaces workspacedomain.Repository
	provider   *fakeProvider
	counter    *fakeCounter
	db         *gorm.DB
	node       *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	err = dbConn.AutoMigrate(
		&identitydomain.User{},
		&workspacedomain.Workspace{}, &workspacedomain.Member{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	cfg := config.Config{
		AppSecret:           "test-secret",
		AppBaseURL:          "http://localhost:8000",
		BillingEnabled:      true,
		StripeWebhookSecret: webhookSecret,
		TrialNoticeWindow:   72 * time.Hour,
	}
	catalog, err := config.NewPlanCatalogHolder()
	if err != nil {
		t.Fatalf("failed to build plan catalog: %v", err)
	}

	provider := &fakeProvider{
		sessions: map[string]*domain.CheckoutSession{},
		subs:     map[string]*domain.Subscription{},
	}
	counter := &fakeCounter{counts: map[domain.ResourceKind]int64{}}
	workspaces := workspacerepo.NewRepository(dbConn)
	users := identityservice.NewService(dbConn, identityrepo.NewRepository(dbConn), node, nil, cfg, zap.NewNop())
	svc := NewService(dbConn, workspaces, users, provider, counter, catalog, cfg, &email.NoOpProvider{}, nil, zap.NewNop())

	return &fixture{svc: svc, workspaces: workspaces, provider: provider, counter: counter, db: dbConn, node: node}
}

func (f *fixture) newWorkspace(t *testing.T, planKey string, limits domain.PlanLimits) *workspacedomain.Workspace {
	t.Helper()
	raw, err := json.Marshal(&limits)
	if err != nil {
		t.Fatalf("failed to marshal limits: %v", err)
	}
	ws := &workspacedomain.Workspace{
		ID:                   f.node.Generate(),
		Key:                  fmt.Sprintf("ws_%d", f.node.Generate()),
		Name:                 "Acme",
		BillingPlanKey:       planKey,
		PlanLimits:           datatypes.JSON(raw),
		StripeCustomerID:     limits.StripeCustomerID,
		StripeSubscriptionID: limits.StripeSubscriptionID,
		Branding:             datatypes.JSONMap{},
	}
	if err := f.workspaces.CreateWorkspace(context.Background(), ws); err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return ws
}

func (f *fixture) limits(t *testing.T, id snowflake.ID) *domain.PlanLimits {
	t.Helper()
	ws, err := f.workspaces.FindWorkspaceByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to reload workspace: %v", err)
	}
	var limits domain.PlanLimits
	if err := json.Unmarshal(ws.PlanLimits, &limits); err != nil {
		t.Fatalf("failed to decode limits: %v", err)
	}
	return &limits
}

func signedEvent(t *testing.T, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal object: %v", err)
	}
	payload, err := json.Marshal(map[string]any{
		"id":      "evt_1",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload, stripe.Sign(webhookSecret, payload, time.Now().Unix())
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	payload, _ := signedEvent(t, stripe.EventSubscriptionUpdated, map[string]any{"id": "sub_1"})
	err := f.svc.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleWebhookCheckoutCompleted(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})

	f.provider.subs["sub_1"] = &domain.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active", Interval: "month",
	}
	payload, header := signedEvent(t, stripe.EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"subscription":   "sub_1",
		"customer":       "cus_1",
		"payment_status": "paid",
		"metadata":       map[string]string{"team_key": ws.Key, "plan_key": "business"},
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("expected webhook to apply, got %v", err)
	}

	updated, err := f.workspaces.FindWorkspaceByID(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("failed to reload workspace: %v", err)
	}
	if updated.BillingPlanKey != "business" {
		t.Fatalf("expected plan business, got %s", updated.BillingPlanKey)
	}
	if updated.StripeSubscriptionID != "sub_1" || updated.StripeCustomerID != "cus_1" {
		t.Fatalf("expected denormalized provider ids, got %q %q", updated.StripeSubscriptionID, updated.StripeCustomerID)
	}
	limits := f.limits(t, ws.ID)
	if limits.SubscriptionStatus != domain.StatusActive {
		t.Fatalf("expected active status, got %s", limits.SubscriptionStatus)
	}
	if limits.BillingPeriod != domain.BillingPeriodMonthly {
		t.Fatalf("expected monthly period, got %s", limits.BillingPeriod)
	}
}

func TestHandleWebhookCheckoutReplayIsNoOp(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})

	f.provider.subs["sub_1"] = &domain.Subscription{ID: "sub_1", CustomerID: "cus_1", Status: "active"}
	payload, header := signedEvent(t, stripe.EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"subscription":   "sub_1",
		"customer":       "cus_1",
		"payment_status": "paid",
		"metadata":       map[string]string{"team_key": ws.Key, "plan_key": "business"},
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	first := f.limits(t, ws.ID)

	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	second := f.limits(t, ws.ID)
	if !second.LastUpdated.Equal(first.LastUpdated) {
		t.Fatalf("expected replay to leave the snapshot untouched")
	}
}

func TestHandleWebhookUnknownStatusMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus: domain.StatusActive,
		StripeCustomerID:   "cus_1",
	})

	payload, header := signedEvent(t, stripe.EventSubscriptionUpdated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "paused",
	})
	err := f.svc.HandleWebhook(context.Background(), payload, header)
	if !errors.Is(err, domain.ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}

	limits := f.limits(t, ws.ID)
	if limits.SubscriptionStatus != domain.StatusActive {
		t.Fatalf("expected snapshot untouched, got %s", limits.SubscriptionStatus)
	}
}

func TestHandleWebhookSubscriptionDeletedKeepsMaxima(t *testing.T) {
	f := newFixture(t)
	max := int64(10)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus: domain.StatusActive,
		StripeCustomerID:   "cus_1",
		MaxProducts:        &max,
	})

	payload, header := signedEvent(t, stripe.EventSubscriptionDeleted, map[string]any{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   "canceled",
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("expected delete to apply, got %v", err)
	}

	limits := f.limits(t, ws.ID)
	if limits.SubscriptionStatus != domain.StatusCanceled {
		t.Fatalf("expected canceled, got %s", limits.SubscriptionStatus)
	}
	if limits.MaxProducts == nil || *limits.MaxProducts != 10 {
		t.Fatalf("expected maxima preserved, got %v", limits.MaxProducts)
	}
}

func TestHandleWebhookInvoiceFailedRestrictsReads(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus: domain.StatusActive,
		StripeCustomerID:   "cus_1",
	})

	payload, header := signedEvent(t, stripe.EventInvoiceFailed, map[string]any{
		"id":       "in_1",
		"customer": "cus_1",
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("expected invoice failure to apply, got %v", err)
	}

	limits := f.limits(t, ws.ID)
	if !limits.SubscriptionStatus.PaymentRestricted() {
		t.Fatalf("expected payment restriction, got %s", limits.SubscriptionStatus)
	}
}

func TestHandleWebhookPreservesUnknownSnapshotKeys(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus: domain.StatusActive,
		StripeCustomerID:   "cus_1",
	})
	err := f.db.Model(&workspacedomain.Workspace{}).Where("id = ?", ws.ID).
		Update("plan_limits", datatypes.JSON(`{"subscription_status":"active","future_flag":true,"stripe_customer_id":"cus_1"}`)).Error
	if err != nil {
		t.Fatalf("failed to seed snapshot: %v", err)
	}

	payload, header := signedEvent(t, stripe.EventInvoicePaid, map[string]any{
		"id":          "in_1",
		"customer":    "cus_1",
		"amount_paid": 19900,
		"currency":    "USD",
		"period_end":  time.Now().Add(30 * 24 * time.Hour).Unix(),
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("expected invoice to apply, got %v", err)
	}

	updated, err := f.workspaces.FindWorkspaceByID(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("failed to reload workspace: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(updated.PlanLimits, &raw); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if _, ok := raw["future_flag"]; !ok {
		t.Fatalf("expected unknown key to survive the rewrite")
	}
	limits := f.limits(t, ws.ID)
	if limits.LastPaymentAmount == nil || *limits.LastPaymentAmount != 19900 {
		t.Fatalf("expected payment amount recorded, got %v", limits.LastPaymentAmount)
	}
	if limits.LastPaymentCurrency != "usd" {
		t.Fatalf("expected lowercase currency, got %s", limits.LastPaymentCurrency)
	}
}

func TestHandleCheckoutReturnAlreadyActive(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus:   domain.StatusActive,
		StripeSubscriptionID: "sub_1",
	})
	before := f.limits(t, ws.ID)

	f.provider.sessions["cs_1"] = &domain.CheckoutSession{
		ID: "cs_1", SubscriptionID: "sub_1", CustomerID: "cus_1", PaymentStatus: "paid",
	}
	result, err := f.svc.HandleCheckoutReturn(context.Background(), ws.Key, "cs_1")
	if err != nil {
		t.Fatalf("expected return to succeed, got %v", err)
	}
	if !result.AlreadyActive {
		t.Fatalf("expected AlreadyActive for a session the webhook already applied")
	}
	after := f.limits(t, ws.ID)
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Fatalf("expected no mutation on the already-active path")
	}
}

func TestHandleCheckoutReturnUnpaidSession(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})

	f.provider.sessions["cs_1"] = &domain.CheckoutSession{
		ID: "cs_1", SubscriptionID: "sub_1", PaymentStatus: "unpaid",
	}
	_, err := f.svc.HandleCheckoutReturn(context.Background(), ws.Key, "cs_1")
	if !errors.Is(err, domain.ErrSessionNotPaid) {
		t.Fatalf("expected ErrSessionNotPaid, got %v", err)
	}
}

func TestCanCreateEnforcesSnapshotLimit(t *testing.T) {
	f := newFixture(t)
	max := int64(5)
	ws := f.newWorkspace(t, "starter", domain.PlanLimits{
		SubscriptionStatus: domain.StatusActive,
		MaxComponents:      &max,
	})

	f.counter.counts[domain.ResourceComponents] = 4
	if err := f.svc.CanCreate(context.Background(), ws.ID, domain.ResourceComponents); err != nil {
		t.Fatalf("expected creation under the cap to pass, got %v", err)
	}

	f.counter.counts[domain.ResourceComponents] = 5
	err := f.svc.CanCreate(context.Background(), ws.ID, domain.ResourceComponents)
	var limitErr *domain.PlanLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected PlanLimitError, got %v", err)
	}
	if limitErr.Current != 5 || limitErr.Limit != 5 || limitErr.Kind != domain.ResourceComponents {
		t.Fatalf("unexpected limit error detail: %+v", limitErr)
	}
}

func TestCanCreateDowngradeProtection(t *testing.T) {
	f := newFixture(t)
	max := int64(100)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus:     domain.StatusActive,
		MaxComponents:          &max,
		StripeSubscriptionID:   "sub_1",
		CancelAtPeriodEnd:      true,
		ScheduledDowngradePlan: "community",
	})
	f.provider.subs["sub_1"] = &domain.Subscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true}

	// Community caps components at 5; the current plan would allow it.
	f.counter.counts[domain.ResourceComponents] = 5
	err := f.svc.CanCreate(context.Background(), ws.ID, domain.ResourceComponents)
	var limitErr *domain.PlanLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected PlanLimitError against the scheduled plan, got %v", err)
	}
	if limitErr.PlanKey != "community" {
		t.Fatalf("expected the scheduled plan in the error, got %s", limitErr.PlanKey)
	}
}

func TestCanCreateReactivationUsesCurrentPlan(t *testing.T) {
	f := newFixture(t)
	max := int64(100)
	ws := f.newWorkspace(t, "business", domain.PlanLimits{
		SubscriptionStatus:     domain.StatusActive,
		MaxComponents:          &max,
		StripeSubscriptionID:   "sub_1",
		CancelAtPeriodEnd:      true,
		ScheduledDowngradePlan: "community",
	})
	f.provider.subs["sub_1"] = &domain.Subscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: false}

	f.counter.counts[domain.ResourceComponents] = 5
	if err := f.svc.CanCreate(context.Background(), ws.ID, domain.ResourceComponents); err != nil {
		t.Fatalf("expected reactivated subscription to use current limits, got %v", err)
	}

	// CanCreate never writes, so the stale schedule survives until
	// the next provider sync.
	limits := f.limits(t, ws.ID)
	if !limits.CancelAtPeriodEnd || limits.ScheduledDowngradePlan != "community" {
		t.Fatalf("expected schedule untouched by CanCreate, got %+v", limits)
	}

	if err := f.svc.RefreshSubscription(context.Background(), ws.ID); err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	limits = f.limits(t, ws.ID)
	if limits.CancelAtPeriodEnd || limits.ScheduledDowngradePlan != "" {
		t.Fatalf("expected refresh to clear the schedule, got %+v", limits)
	}
}

func TestCanCreateBypasses(t *testing.T) {
	f := newFixture(t)

	enterprise := f.newWorkspace(t, config.PlanEnterprise, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})
	f.counter.counts[domain.ResourceProducts] = 1000
	if err := f.svc.CanCreate(context.Background(), enterprise.ID, domain.ResourceProducts); err != nil {
		t.Fatalf("expected enterprise bypass, got %v", err)
	}

	disabled := newFixture(t)
	disabledSvc := NewService(
		disabled.db, disabled.workspaces, nil, disabled.provider, disabled.counter,
		mustCatalog(t), config.Config{BillingEnabled: false}, &email.NoOpProvider{}, nil, zap.NewNop(),
	)
	ws := disabled.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})
	disabled.counter.counts[domain.ResourceComponents] = 1000
	if err := disabledSvc.CanCreate(context.Background(), ws.ID, domain.ResourceComponents); err != nil {
		t.Fatalf("expected self-hosted bypass, got %v", err)
	}
}

func TestGetOverview(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})

	overview, err := f.svc.GetOverview(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("expected overview, got %v", err)
	}
	if overview.PlanKey != config.PlanCommunity || overview.PlanName != "Community" {
		t.Fatalf("unexpected plan identity: %+v", overview)
	}
	if !overview.CanUpgrade {
		t.Fatalf("expected community plan to be upgradable")
	}
}

func mustCatalog(t *testing.T) *config.PlanCatalogHolder {
	t.Helper()
	catalog, err := config.NewPlanCatalogHolder()
	if err != nil {
		t.Fatalf("failed to build plan catalog: %v", err)
	}
	return catalog
}

func TestHandleWebhookUnpaidCheckoutAcknowledged(t *testing.T) {
	f := newFixture(t)
	ws := f.newWorkspace(t, config.PlanCommunity, domain.PlanLimits{SubscriptionStatus: domain.StatusActive})
	before := f.limits(t, ws.ID)

	payload, header := signedEvent(t, stripe.EventCheckoutCompleted, map[string]any{
		"id":             "cs_1",
		"subscription":   "sub_1",
		"customer":       "cus_1",
		"payment_status": "unpaid",
		"metadata":       map[string]string{"team_key": ws.Key, "plan_key": "business"},
	})
	if err := f.svc.HandleWebhook(context.Background(), payload, header); err != nil {
		t.Fatalf("expected unpaid session acknowledged without error, got %v", err)
	}

	after := f.limits(t, ws.ID)
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Fatalf("expected no mutation for an unpaid session")
	}
}
