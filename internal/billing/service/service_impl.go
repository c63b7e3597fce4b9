package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/billing/domain"
	"github.com/sbomify/sbomify/internal/billing/stripe"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	"github.com/sbomify/sbomify/internal/observability/metrics"
	"github.com/sbomify/sbomify/internal/providers/email"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const metadataWorkspaceKey = "team_key"

// errNoChange signals that a snapshot mutation decided to keep the
// stored state, so nothing is written.
var errNoChange = errors.New("no_change")

type service struct {
	db         *gorm.DB
	workspaces workspacedomain.Repository
	users      identitydomain.Service
	provider   domain.Provider
	counter    domain.ResourceCounter
	catalog    *config.PlanCatalogHolder
	cfg        config.Config
	mail       email.Provider
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewService(
	gormDB *gorm.DB,
	workspaces workspacedomain.Repository,
	users identitydomain.Service,
	provider domain.Provider,
	counter domain.ResourceCounter,
	catalog *config.PlanCatalogHolder,
	cfg config.Config,
	mail email.Provider,
	m *metrics.Metrics,
	log *zap.Logger,
) domain.Service {
	return &service{
		db:         gormDB,
		workspaces: workspaces,
		users:      users,
		provider:   provider,
		counter:    counter,
		catalog:    catalog,
		cfg:        cfg,
		mail:       mail,
		metrics:    m,
		log:        log.Named("billing.service"),
	}
}

func (s *service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := stripe.VerifySignature(s.cfg.StripeWebhookSecret, payload, signatureHeader); err != nil {
		return err
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		return err
	}

	var handlerErr error
	switch event.Type {
	case stripe.EventCheckoutCompleted:
		handlerErr = s.handleCheckoutCompleted(ctx, event)
	case stripe.EventSubscriptionUpdated:
		handlerErr = s.handleSubscriptionUpdated(ctx, event)
	case stripe.EventSubscriptionDeleted:
		handlerErr = s.handleSubscriptionDeleted(ctx, event)
	case stripe.EventInvoicePaid:
		handlerErr = s.handleInvoicePaid(ctx, event)
	case stripe.EventInvoiceFailed:
		handlerErr = s.handleInvoiceFailed(ctx, event)
	default:
		// Unrecognized events are acknowledged, not failed, so the
		// provider does not retry them forever.
		s.log.Info("ignoring webhook event", zap.String("type", event.Type))
		s.metrics.RecordBillingEvent(ctx, event.Type, "ignored")
		return nil
	}

	outcome := "applied"
	switch {
	case errors.Is(handlerErr, domain.ErrEventIgnored):
		// Acknowledged but not applied, so the provider does not
		// retry it forever.
		outcome = "ignored"
		handlerErr = nil
	case handlerErr != nil:
		outcome = "error"
	}
	s.metrics.RecordBillingEvent(ctx, event.Type, outcome)
	return handlerErr
}

func (s *service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return domain.ErrInvalidPayload
	}
	if session.PaymentStatus != "paid" {
		s.log.Info("skipping unpaid checkout session", zap.String("session_id", session.ID))
		return domain.ErrEventIgnored
	}

	ws, err := s.resolveWorkspace(ctx, session.Metadata, session.Customer)
	if err != nil {
		return err
	}

	return s.applyCheckout(ctx, ws.ID, &domain.CheckoutSession{
		ID:             session.ID,
		SubscriptionID: session.Subscription,
		CustomerID:     session.Customer,
		PaymentStatus:  session.PaymentStatus,
		Metadata:       session.Metadata,
	})
}

func (s *service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return domain.ErrInvalidPayload
	}

	status, err := domain.ParseSubscriptionStatus(sub.Status)
	if err != nil {
		// Nothing is mutated for statuses outside the allowed set.
		return err
	}

	ws, err := s.resolveWorkspace(ctx, sub.Metadata, sub.Customer)
	if err != nil {
		return err
	}

	var notify func()
	err = s.withLockedSnapshot(ctx, ws.ID, func(ws *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		limits.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if !sub.CancelAtPeriodEnd {
			limits.ScheduledDowngradePlan = ""
		} else if target := strings.TrimSpace(sub.Metadata["downgrade_plan"]); target != "" {
			limits.ScheduledDowngradePlan = target
		}

		if status != domain.StatusTrialing {
			limits.SubscriptionStatus = status
			limits.IsTrial = false
			limits.TrialEnd = nil
			return nil
		}

		trialEnd := unixTime(sub.TrialEnd)
		if trialEnd != nil && trialEnd.Before(time.Now()) {
			limits.SubscriptionStatus = domain.StatusCanceled
			limits.IsTrial = false
			limits.TrialEnd = trialEnd
			notify = s.trialNotifier(ws, trialEnd, true)
			return nil
		}

		limits.SubscriptionStatus = domain.StatusTrialing
		limits.IsTrial = true
		limits.TrialEnd = trialEnd
		if trialEnd != nil && time.Until(*trialEnd) <= s.cfg.TrialNoticeWindow {
			notify = s.trialNotifier(ws, trialEnd, false)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if notify != nil {
		notify()
	}
	return nil
}

func (s *service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return domain.ErrInvalidPayload
	}

	ws, err := s.resolveWorkspace(ctx, sub.Metadata, sub.Customer)
	if err != nil {
		return err
	}

	// The maxima stay in place until the next plan choice overwrites
	// them.
	return s.withLockedSnapshot(ctx, ws.ID, func(_ *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		limits.SubscriptionStatus = domain.StatusCanceled
		limits.IsTrial = false
		return nil
	})
}

func (s *service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return domain.ErrInvalidPayload
	}

	ws, err := s.resolveWorkspace(ctx, invoice.Metadata, invoice.Customer)
	if err != nil {
		return err
	}

	return s.withLockedSnapshot(ctx, ws.ID, func(_ *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		limits.SubscriptionStatus = domain.StatusActive
		amount := invoice.AmountPaid
		limits.LastPaymentAmount = &amount
		limits.LastPaymentCurrency = strings.ToLower(invoice.Currency)
		limits.NextBillingDate = unixTime(invoice.PeriodEnd)
		return nil
	})
}

func (s *service) handleInvoiceFailed(ctx context.Context, event *stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return domain.ErrInvalidPayload
	}

	ws, err := s.resolveWorkspace(ctx, invoice.Metadata, invoice.Customer)
	if err != nil {
		return err
	}

	err = s.withLockedSnapshot(ctx, ws.ID, func(_ *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		limits.SubscriptionStatus = domain.StatusPastDue
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyAdmins(ws, "payment_failed", map[string]any{
		"subject":        fmt.Sprintf("Payment failed for %s", ws.Name),
		"workspace_name": ws.Name,
		"billing_url":    s.cfg.AppBaseURL + "/workspace/" + ws.Key + "/billing",
	})
	return nil
}

func (s *service) HandleCheckoutReturn(ctx context.Context, workspaceKey, sessionID string) (*domain.CheckoutResult, error) {
	ws, err := s.workspaces.FindWorkspaceByKey(ctx, workspaceKey)
	if err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, domain.ErrProvider
	}

	session, err := s.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Fast path before taking the lock: the paired webhook may
	// already have applied this session.
	if ws.StripeSubscriptionID != "" && ws.StripeSubscriptionID == session.SubscriptionID {
		return &domain.CheckoutResult{
			WorkspaceKey:  ws.Key,
			PlanKey:       ws.BillingPlanKey,
			AlreadyActive: true,
		}, nil
	}
	if session.PaymentStatus != "paid" {
		return nil, domain.ErrSessionNotPaid
	}

	if err := s.applyCheckout(ctx, ws.ID, session); err != nil {
		return nil, err
	}

	updated, err := s.workspaces.FindWorkspaceByID(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return &domain.CheckoutResult{
		WorkspaceKey: updated.Key,
		PlanKey:      updated.BillingPlanKey,
	}, nil
}

// applyCheckout writes the plan resolved from a paid session into the
// snapshot. Safe to call from both the webhook and the return
// endpoint: whichever commits first wins, the other is a no-op.
func (s *service) applyCheckout(ctx context.Context, workspaceID snowflake.ID, session *domain.CheckoutSession) error {
	var sub *domain.Subscription
	if s.provider != nil && session.SubscriptionID != "" {
		fetched, err := s.provider.GetSubscription(ctx, session.SubscriptionID)
		if err != nil {
			return err
		}
		sub = fetched
	}

	plan, ok := s.resolvePlan(session.Metadata, sub)
	if !ok {
		return domain.ErrUnknownPlan
	}

	status := domain.StatusActive
	if sub != nil {
		parsed, err := domain.ParseSubscriptionStatus(sub.Status)
		if err != nil {
			return err
		}
		status = parsed
	}

	return s.withLockedSnapshot(ctx, workspaceID, func(ws *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		if ws.StripeSubscriptionID != "" && ws.StripeSubscriptionID == session.SubscriptionID {
			return errNoChange
		}

		fresh := domain.SnapshotFromPlan(plan, status, time.Now().UTC())
		fresh.StripeCustomerID = session.CustomerID
		fresh.StripeSubscriptionID = session.SubscriptionID
		fresh.BillingPeriod = billingPeriod(session.Metadata, sub)
		if sub != nil {
			fresh.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
			fresh.TrialEnd = sub.TrialEnd
			fresh.IsTrial = status == domain.StatusTrialing
			fresh.NextBillingDate = sub.CurrentPeriodEnd
		}

		*limits = fresh
		ws.BillingPlanKey = plan.Key
		return nil
	})
}

func (s *service) RefreshSubscription(ctx context.Context, workspaceID snowflake.ID) error {
	if s.provider == nil {
		return nil
	}
	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return err
	}
	if ws.StripeSubscriptionID == "" {
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, ws.StripeSubscriptionID)
	if err != nil {
		// Drift patching is best-effort; the snapshot stays usable.
		s.log.Warn("refresh subscription", zap.Error(err), zap.String("workspace_key", ws.Key))
		return nil
	}
	status, err := domain.ParseSubscriptionStatus(sub.Status)
	if err != nil {
		return err
	}

	return s.withLockedSnapshot(ctx, ws.ID, func(_ *workspacedomain.Workspace, limits *domain.PlanLimits) error {
		limits.SubscriptionStatus = status
		limits.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if !sub.CancelAtPeriodEnd {
			limits.ScheduledDowngradePlan = ""
		}
		limits.NextBillingDate = sub.CurrentPeriodEnd
		return nil
	})
}

func (s *service) CanCreate(ctx context.Context, workspaceID snowflake.ID, kind domain.ResourceKind) error {
	// The single global bypass for self-hosted installs.
	if !s.cfg.BillingEnabled {
		return nil
	}

	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return err
	}
	current, err := s.counter.CountResources(ctx, ws.ID, kind)
	if err != nil {
		return err
	}
	return s.gateCreate(ctx, ws, kind, current)
}

func (s *service) CanCreateCounted(ctx context.Context, ws *workspacedomain.Workspace, kind domain.ResourceKind, current int64) error {
	if !s.cfg.BillingEnabled {
		return nil
	}
	return s.gateCreate(ctx, ws, kind, current)
}

func (s *service) gateCreate(ctx context.Context, ws *workspacedomain.Workspace, kind domain.ResourceKind, current int64) error {
	if ws.BillingPlanKey == config.PlanEnterprise {
		return nil
	}

	limits, err := decodeLimits(ws.PlanLimits)
	if err != nil {
		return err
	}

	planKey := ws.BillingPlanKey
	if limits.CancelAtPeriodEnd && limits.ScheduledDowngradePlan != "" {
		planKey, limits, err = s.resolveDowngrade(ctx, ws, limits)
		if err != nil {
			return err
		}
	}

	max := limitFor(limits, kind)
	if max == nil {
		if plan, ok := s.catalog.Get().Find(planKey); ok {
			max = planLimitFor(plan, kind)
		}
	}
	if max == nil {
		return nil
	}
	if current+1 > *max {
		return &domain.PlanLimitError{Kind: kind, Current: current, Limit: *max, PlanKey: planKey}
	}
	return nil
}

// resolveDowngrade evaluates creation against the scheduled target
// plan, or against the current plan when the provider says the
// customer reactivated. Read-only: callers may hold the workspace row
// lock, so the stale schedule flags stay in place until the next
// RefreshSubscription clears them.
func (s *service) resolveDowngrade(ctx context.Context, ws *workspacedomain.Workspace, limits *domain.PlanLimits) (string, *domain.PlanLimits, error) {
	if s.provider != nil && ws.StripeSubscriptionID != "" {
		sub, err := s.provider.GetSubscription(ctx, ws.StripeSubscriptionID)
		if err == nil && !sub.CancelAtPeriodEnd {
			limits.CancelAtPeriodEnd = false
			limits.ScheduledDowngradePlan = ""
			return ws.BillingPlanKey, limits, nil
		}
	}

	target, ok := s.catalog.Get().Find(limits.ScheduledDowngradePlan)
	if !ok {
		return "", nil, domain.ErrUnknownPlan
	}
	snapshot := domain.SnapshotFromPlan(target, limits.SubscriptionStatus, limits.LastUpdated)
	return target.Key, &snapshot, nil
}

func (s *service) GetOverview(ctx context.Context, workspaceID snowflake.ID) (*domain.Overview, error) {
	if err := s.RefreshSubscription(ctx, workspaceID); err != nil {
		s.log.Warn("refresh before overview", zap.Error(err))
	}

	ws, err := s.workspaces.FindWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	limits, err := decodeLimits(ws.PlanLimits)
	if err != nil {
		return nil, err
	}

	planName := ws.BillingPlanKey
	if plan, ok := s.catalog.Get().Find(ws.BillingPlanKey); ok {
		planName = plan.Name
	}
	return &domain.Overview{
		PlanKey:    ws.BillingPlanKey,
		PlanName:   planName,
		Limits:     *limits,
		CanUpgrade: ws.BillingPlanKey != config.PlanEnterprise,
	}, nil
}

// withLockedSnapshot runs a read-modify-write of the entitlement
// snapshot under a row lock on the workspace.
func (s *service) withLockedSnapshot(ctx context.Context, workspaceID snowflake.ID, mutate func(*workspacedomain.Workspace, *domain.PlanLimits) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.workspaces.WithTx(tx)
		ws, err := repo.FindWorkspaceByIDForUpdate(ctx, workspaceID)
		if err != nil {
			return err
		}

		limits, err := decodeLimits(ws.PlanLimits)
		if err != nil {
			return err
		}

		if err := mutate(ws, limits); err != nil {
			if errors.Is(err, errNoChange) {
				return nil
			}
			return err
		}

		limits.LastUpdated = time.Now().UTC()
		raw, err := json.Marshal(limits)
		if err != nil {
			return err
		}
		ws.PlanLimits = datatypes.JSON(raw)
		ws.StripeCustomerID = limits.StripeCustomerID
		ws.StripeSubscriptionID = limits.StripeSubscriptionID
		ws.UpdatedAt = time.Now().UTC()
		return repo.UpdateWorkspace(ctx, ws)
	})
}

func (s *service) resolveWorkspace(ctx context.Context, metadata map[string]string, customerID string) (*workspacedomain.Workspace, error) {
	if key := strings.TrimSpace(metadata[metadataWorkspaceKey]); key != "" {
		ws, err := s.workspaces.FindWorkspaceByKey(ctx, key)
		if err == nil {
			return ws, nil
		}
		if err != workspacedomain.ErrWorkspaceNotFound {
			return nil, err
		}
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, workspacedomain.ErrWorkspaceNotFound
	}
	return s.workspaces.FindWorkspaceByStripeCustomerID(ctx, customerID)
}

func (s *service) resolvePlan(metadata map[string]string, sub *domain.Subscription) (config.BillingPlan, bool) {
	catalog := s.catalog.Get()
	if key := strings.TrimSpace(metadata["plan_key"]); key != "" {
		if plan, ok := catalog.Find(key); ok {
			return plan, true
		}
	}
	if sub != nil {
		return catalog.FindByPriceID(sub.PriceID)
	}
	return config.BillingPlan{}, false
}

func (s *service) trialNotifier(ws *workspacedomain.Workspace, trialEnd *time.Time, expired bool) func() {
	data := map[string]any{
		"workspace_name": ws.Name,
		"billing_url":    s.cfg.AppBaseURL + "/workspace/" + ws.Key + "/billing",
		"expired":        expired,
	}
	if expired {
		data["subject"] = fmt.Sprintf("Trial expired for %s", ws.Name)
	} else {
		data["subject"] = fmt.Sprintf("Trial ending soon for %s", ws.Name)
		if trialEnd != nil {
			data["trial_end"] = trialEnd.Format(time.RFC1123)
		}
	}
	return func() { s.notifyAdmins(ws, "trial_notice", data) }
}

// notifyAdmins mails every owner and admin of the workspace in the
// background.
func (s *service) notifyAdmins(ws *workspacedomain.Workspace, template string, data map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		members, err := s.workspaces.ListMembersByWorkspace(ctx, ws.ID)
		if err != nil {
			s.log.Warn("list members for notification", zap.Error(err))
			return
		}
		for _, member := range members {
			if !member.Role.IsAdmin() {
				continue
			}
			user, err := s.users.GetUser(ctx, member.UserID)
			if err != nil {
				continue
			}
			if err := s.mail.SendTemplate(ctx, []string{user.Email}, template, data); err != nil {
				s.log.Warn("send billing notification", zap.Error(err), zap.String("template", template))
			}
		}
	}()
}

func decodeLimits(raw datatypes.JSON) (*domain.PlanLimits, error) {
	var limits domain.PlanLimits
	if len(raw) == 0 {
		return &limits, nil
	}
	if err := json.Unmarshal(raw, &limits); err != nil {
		return nil, err
	}
	return &limits, nil
}

func limitFor(limits *domain.PlanLimits, kind domain.ResourceKind) *int64 {
	switch kind {
	case domain.ResourceProducts:
		return limits.MaxProducts
	case domain.ResourceProjects:
		return limits.MaxProjects
	case domain.ResourceComponents:
		return limits.MaxComponents
	}
	return nil
}

func planLimitFor(plan config.BillingPlan, kind domain.ResourceKind) *int64 {
	var v *int
	switch kind {
	case domain.ResourceProducts:
		v = plan.MaxProducts
	case domain.ResourceProjects:
		v = plan.MaxProjects
	case domain.ResourceComponents:
		v = plan.MaxComponents
	}
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}

func billingPeriod(metadata map[string]string, sub *domain.Subscription) string {
	if period := strings.TrimSpace(metadata["billing_period"]); period != "" {
		return period
	}
	if sub == nil {
		return ""
	}
	switch sub.Interval {
	case "year":
		return domain.BillingPeriodAnnual
	case "month":
		return domain.BillingPeriodMonthly
	}
	return ""
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}
