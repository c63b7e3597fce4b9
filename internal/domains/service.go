// Package domains admits or rejects the Host header of every request.
// A request arrives either on the main domain (the configured base
// host or another allow-listed host) or on a workspace's verified
// custom domain; anything else is turned away before routing.
package domains

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/cache"
	"github.com/sbomify/sbomify/internal/config"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
	"go.uber.org/zap"
)

const (
	// Custom-domain lookups are cached so host admission stays off the
	// database hot path. Misses are cached briefly too, so unknown-host
	// floods cannot turn into query floods.
	positiveTTL = 10 * time.Minute
	negativeTTL = 30 * time.Second
)

var (
	ErrInvalidHost = errors.New("invalid_host")
	ErrUnknownHost = errors.New("unknown_host")
)

var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?)*$`)

// Kind classifies an admitted request.
type Kind int

const (
	KindMain Kind = iota
	KindCustom
)

// Admission is the outcome attached to the request context. Workspace
// is set only for custom-domain requests.
type Admission struct {
	Kind      Kind
	Host      string
	Workspace *workspacedomain.Workspace
}

// ProbeResponse is the well-known domain-check payload the edge layer
// reads before provisioning a certificate.
type ProbeResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Domain  string `json:"domain"`
	TS      int64  `json:"ts"`
	Region  string `json:"region"`
}

type Service struct {
	workspaces workspacedomain.Repository
	lookups    cache.Cache[string, *workspacedomain.Workspace]
	allowed    map[string]bool
	cfg        config.Config
	log        *zap.Logger
}

func NewService(cfg config.Config, workspaces workspacedomain.Repository, log *zap.Logger) *Service {
	allowed := map[string]bool{
		cfg.BaseHost(): true,
		"localhost":    true,
		"127.0.0.1":    true,
	}
	for _, host := range cfg.ExtraAllowedHosts {
		allowed[host] = true
	}
	return &Service{
		workspaces: workspaces,
		lookups:    cache.NewTTLCache[string, *workspacedomain.Workspace](),
		allowed:    allowed,
		cfg:        cfg,
		log:        log.Named("domains"),
	}
}

// Admit classifies the raw Host header. Unknown and malformed hosts
// are rejected; non-loopback IP literals are never custom domains.
func (s *Service) Admit(ctx context.Context, rawHost string) (*Admission, error) {
	host, err := NormalizeHost(rawHost)
	if err != nil {
		return nil, err
	}

	if s.allowed[host] {
		return &Admission{Kind: KindMain, Host: host}, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if !ip.IsLoopback() {
			return nil, ErrInvalidHost
		}
		return nil, ErrUnknownHost
	}

	if ws, ok := s.lookups.Get(host); ok {
		if ws == nil {
			return nil, ErrUnknownHost
		}
		return &Admission{Kind: KindCustom, Host: host, Workspace: ws}, nil
	}

	ws, err := s.workspaces.FindWorkspaceByCustomDomain(ctx, host)
	if err != nil {
		if errors.Is(err, workspacedomain.ErrWorkspaceNotFound) {
			s.lookups.Set(host, nil, negativeTTL)
			return nil, ErrUnknownHost
		}
		return nil, err
	}
	s.lookups.Set(host, ws, positiveTTL)
	return &Admission{Kind: KindCustom, Host: host, Workspace: ws}, nil
}

// Probe serves the well-known domain check. Admitting a custom domain
// here marks it validated; that side effect is what lets the edge
// layer provision TLS for it.
func (s *Service) Probe(ctx context.Context, rawHost string) (*ProbeResponse, error) {
	admission, err := s.Admit(ctx, rawHost)
	if err != nil {
		return nil, err
	}

	if admission.Kind == KindCustom {
		ws := admission.Workspace
		now := time.Now().UTC()
		ws.CustomDomainValidated = true
		ws.CustomDomainLastCheckedAt = &now
		ws.CustomDomainVerificationFailures = 0
		if err := s.workspaces.UpdateWorkspace(ctx, ws); err != nil {
			s.log.Warn("mark custom domain validated",
				zap.String("host", admission.Host), zap.Error(err))
		} else {
			s.lookups.Set(admission.Host, ws, positiveTTL)
		}
	}

	return &ProbeResponse{
		OK:      true,
		Service: s.cfg.AppName,
		Domain:  admission.Host,
		TS:      time.Now().Unix(),
		Region:  s.cfg.Region,
	}, nil
}

// EdgeCheck answers the internal endpoint the edge layer polls: only
// the main host and paid-plan custom domains get certificates.
func (s *Service) EdgeCheck(ctx context.Context, rawHost string) bool {
	admission, err := s.Admit(ctx, rawHost)
	if err != nil {
		return false
	}
	if admission.Kind == KindMain {
		return true
	}
	return admission.Workspace.BillingPlanKey != config.PlanCommunity
}

// SetCustomDomain points a workspace at a domain, or clears it when
// domain is empty. The domain starts unvalidated; the probe endpoint
// flips it.
func (s *Service) SetCustomDomain(ctx context.Context, actorID snowflake.ID, workspaceKey, domain string) (*workspacedomain.Workspace, error) {
	ws, err := s.workspaces.FindWorkspaceByKey(ctx, workspaceKey)
	if err != nil {
		return nil, err
	}
	member, err := s.workspaces.FindMember(ctx, ws.ID, actorID)
	if err != nil {
		if errors.Is(err, workspacedomain.ErrMemberNotFound) {
			return nil, workspacedomain.ErrNotAuthorized
		}
		return nil, err
	}
	if !member.Role.IsAdmin() {
		return nil, workspacedomain.ErrNotAuthorized
	}

	if ws.CustomDomain != nil {
		s.lookups.Delete(*ws.CustomDomain)
	}

	domain = strings.TrimSpace(domain)
	if domain == "" {
		ws.CustomDomain = nil
		ws.CustomDomainValidated = false
		ws.CustomDomainVerificationFailures = 0
		return ws, s.workspaces.UpdateWorkspace(ctx, ws)
	}

	if ws.BillingPlanKey == config.PlanCommunity {
		return nil, workspacedomain.ErrNotAuthorized
	}
	host, err := NormalizeHost(domain)
	if err != nil {
		return nil, err
	}
	if s.allowed[host] || net.ParseIP(host) != nil {
		return nil, ErrInvalidHost
	}

	ws.CustomDomain = &host
	ws.CustomDomainValidated = false
	ws.CustomDomainVerificationFailures = 0
	if err := s.workspaces.UpdateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	s.lookups.Delete(host)
	return ws, nil
}

// NormalizeHost strips an optional port, lowercases, and validates the
// remainder as either a hostname or an IP literal.
func NormalizeHost(raw string) (string, error) {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return "", ErrInvalidHost
	}

	// Bracketed IPv6, with or without port.
	if strings.HasPrefix(host, "[") {
		end := strings.Index(host, "]")
		if end < 0 {
			return "", ErrInvalidHost
		}
		rest := host[end+1:]
		if rest != "" && !portSuffix(rest) {
			return "", ErrInvalidHost
		}
		host = host[1:end]
		if net.ParseIP(host) == nil {
			return "", ErrInvalidHost
		}
		return host, nil
	}

	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		// A second colon means a bare IPv6 literal, which is only
		// valid bracketed in a Host header.
		if strings.Count(host, ":") > 1 {
			return "", ErrInvalidHost
		}
		if !portSuffix(host[idx:]) {
			return "", ErrInvalidHost
		}
		host = host[:idx]
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" || len(host) > 253 {
		return "", ErrInvalidHost
	}
	if net.ParseIP(host) != nil {
		return host, nil
	}
	if !hostnamePattern.MatchString(host) {
		return "", ErrInvalidHost
	}
	return host, nil
}

func portSuffix(s string) bool {
	if len(s) < 2 || s[0] != ':' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
