package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/config"
	identitydomain "github.com/sbomify/sbomify/internal/identity/domain"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	"go.uber.org/zap"
)

type fakeIdentityService struct {
	identitydomain.Service

	events []identitydomain.ProviderEvent
}

func (f *fakeIdentityService) HandleProviderEvent(ctx context.Context, evt identitydomain.ProviderEvent) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeBillingService struct {
	billingdomain.Service

	webhookErr error
	payloads   [][]byte
}

func (f *fakeBillingService) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if f.webhookErr != nil {
		return f.webhookErr
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	return r
}

func TestIdentityWebhookSecret(t *testing.T) {
	identity := &fakeIdentityService{}
	s := &Server{
		cfg:         config.Config{IdentityWebhookSecret: "hook-secret"},
		identitySvc: identity,
		log:         zap.NewNop(),
	}
	r := newTestEngine()
	r.POST("/api/v1/identity/webhook", s.IdentityWebhook)

	body := []byte(`{"kind":"LOGIN","external_id":"ext-1","email":"a@b.test","name":"A","session_id":"sess-1"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/identity/webhook", bytes.NewReader(body))
	req.Header.Set(identityWebhookHeader, "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("bad secret: got status %d, want 403", w.Code)
	}
	if len(identity.events) != 0 {
		t.Fatalf("event handled despite bad secret")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/identity/webhook", bytes.NewReader(body))
	req.Header.Set(identityWebhookHeader, "hook-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("good secret: got status %d, want 200: %s", w.Code, w.Body.String())
	}
	if len(identity.events) != 1 || identity.events[0].ExternalID != "ext-1" {
		t.Fatalf("event not forwarded: %+v", identity.events)
	}
}

func TestBillingWebhookSignatureFailureIsForbidden(t *testing.T) {
	billing := &fakeBillingService{webhookErr: billingdomain.ErrInvalidSignature}
	s := &Server{billingSvc: billing}
	r := newTestEngine()
	r.POST("/api/v1/billing/webhook", s.BillingWebhook)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", w.Code)
	}

	billing.webhookErr = nil
	req = httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader([]byte(`{"type":"x"}`)))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	if len(billing.payloads) != 1 {
		t.Fatalf("payload not delivered")
	}
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{catalogdomain.ErrInvalidFormat, http.StatusBadRequest, "invalid_input"},
		{catalogdomain.ErrUnsupportedVersion, http.StatusBadRequest, "invalid_input"},
		{identitydomain.ErrSessionExpired, http.StatusUnauthorized, "not_authenticated"},
		{catalogdomain.ErrPlanRestricted, http.StatusForbidden, "not_authorized"},
		{billingdomain.ErrInvalidSignature, http.StatusForbidden, "not_authorized"},
		{workspacedomain.ErrWorkspaceNotFound, http.StatusNotFound, "not_found"},
		{catalogdomain.ErrDuplicateSBOM, http.StatusConflict, "conflict"},
		{accessrequestdomain.ErrDocumentModified, http.StatusConflict, "conflict"},
		{billingdomain.ErrProvider, http.StatusBadGateway, "provider_error"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		if status != tc.status || payload.Type != tc.kind {
			t.Errorf("mapError(%v) = %d %q, want %d %q", tc.err, status, payload.Type, tc.status, tc.kind)
		}
	}

	status, payload := mapError(&billingdomain.PlanLimitError{Kind: billingdomain.ResourceComponents, Current: 5, Limit: 5, PlanKey: "community"})
	if status != http.StatusForbidden || payload.Type != "plan_limit" {
		t.Fatalf("plan limit mapped to %d %q", status, payload.Type)
	}
	if payload.Detail["limit"] != int64(5) {
		t.Fatalf("plan limit detail missing: %+v", payload.Detail)
	}
}

func TestPaginateCursors(t *testing.T) {
	type row struct{ ID string }
	items := []row{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}
	id := func(r row) string { return r.ID }

	ginCtx := func(query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)
		return c
	}

	page, info, err := paginate(ginCtx("page_size=2"), items, id)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page) != 2 || page[0].ID != "a" || !info.HasMore || info.NextPageToken == "" {
		t.Fatalf("first page wrong: %+v %+v", page, info)
	}

	page, info, err = paginate(ginCtx("page_size=2&page_token="+info.NextPageToken), items, id)
	if err != nil {
		t.Fatalf("paginate second page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c" || !info.HasMore {
		t.Fatalf("second page wrong: %+v %+v", page, info)
	}

	page, info, err = paginate(ginCtx("page_size=2&page_token="+info.NextPageToken), items, id)
	if err != nil {
		t.Fatalf("paginate last page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "e" || info.HasMore {
		t.Fatalf("last page wrong: %+v %+v", page, info)
	}

	if _, _, err := paginate(ginCtx("page_token=%21not-base64"), items, id); err == nil {
		t.Fatalf("invalid cursor accepted")
	}
}

type fakeWorkspaceService struct {
	workspacedomain.Service

	ws *workspacedomain.Workspace
}

func (f *fakeWorkspaceService) GetByKey(ctx context.Context, key string) (*workspacedomain.Workspace, error) {
	if f.ws == nil || f.ws.Key != key {
		return nil, workspacedomain.ErrWorkspaceNotFound
	}
	return f.ws, nil
}

type fakeAccessRequestService struct {
	accessrequestdomain.Service

	emails []string
}

func (f *fakeAccessRequestService) CreateByEmail(ctx context.Context, workspaceID snowflake.ID, email string) (*accessrequestdomain.RequestView, error) {
	f.emails = append(f.emails, email)
	return &accessrequestdomain.RequestView{
		Request: &accessrequestdomain.AccessRequest{WorkspaceID: workspaceID, Status: accessrequestdomain.StatusPending},
	}, nil
}

func TestCreateAccessRequestAcceptsAnonymousEmail(t *testing.T) {
	accessReq := &fakeAccessRequestService{}
	s := &Server{
		workspaceSvc: &fakeWorkspaceService{ws: &workspacedomain.Workspace{ID: 7, Key: "acme"}},
		accessReqSvc: accessReq,
	}
	r := newTestEngine()
	r.POST("/api/v1/teams/:team_key/access-request", s.AuthOptional(), s.CreateAccessRequest)

	body := []byte(`{"email":"guest@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/teams/acme/access-request", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want 201: %s", w.Code, w.Body.String())
	}
	if len(accessReq.emails) != 1 || accessReq.emails[0] != "guest@example.com" {
		t.Fatalf("email not forwarded: %v", accessReq.emails)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/teams/acme/access-request", bytes.NewReader([]byte(`{}`)))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous without email: got status %d, want 401", w.Code)
	}
}
