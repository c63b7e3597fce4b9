package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	cyclonedx "github.com/CycloneDX/cyclonedx-go"
	"github.com/bwmarrin/snowflake"
	"github.com/sbomify/sbomify/internal/access"
	accessrequestdomain "github.com/sbomify/sbomify/internal/accessrequest/domain"
	billingdomain "github.com/sbomify/sbomify/internal/billing/domain"
	catalogdomain "github.com/sbomify/sbomify/internal/catalog/domain"
	"github.com/sbomify/sbomify/internal/release/domain"
	workspacedomain "github.com/sbomify/sbomify/internal/workspace/domain"
)

// tokenQuantum bounds how far apart two compositions can be while
// still producing byte-identical signed URLs.
const tokenQuantum = time.Hour

// callerContext is everything the access resolver needs about the
// requesting user, fetched once per composition.
type callerContext struct {
	userID            snowflake.ID
	role              *workspacedomain.Role
	paymentRestricted bool
	nda               *access.NDAInfo
	request           *access.RequestInfo
}

// Compose builds the aggregate CycloneDX document for the caller.
// Output is deterministic for unchanged state: leaves are ordered by
// (component name, version), and signed-URL issue times are quantized.
func (s *service) Compose(ctx context.Context, callerID, releaseID snowflake.ID) ([]byte, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordComposeDuration(ctx, time.Since(start))
	}()

	release, product, err := s.releaseWithProduct(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	ws, err := s.workspaces.FindWorkspaceByID(ctx, product.WorkspaceID)
	if err != nil {
		return nil, err
	}
	caller, err := s.resolveCaller(ctx, ws, callerID)
	if err != nil {
		return nil, err
	}

	sbomLeaves, documentLeaves, err := s.collectLeaves(ctx, release)
	if err != nil {
		return nil, err
	}

	visibilities := map[snowflake.ID]catalogdomain.Visibility{}
	components := make([]cyclonedx.Component, 0, len(sbomLeaves)+len(documentLeaves))

	for i := range sbomLeaves {
		leaf := &sbomLeaves[i]
		included, public, err := s.admitLeaf(ctx, caller, &leaf.Component, visibilities)
		if err != nil {
			return nil, err
		}
		if !included {
			continue
		}
		url, err := s.leafURL(fmt.Sprintf("/api/v1/sboms/%s/download", leaf.SBOM.ID), leaf.SBOM.ID, caller.userID, public)
		if err != nil {
			return nil, err
		}
		components = append(components, cyclonedx.Component{
			BOMRef:  leaf.SBOM.ID.String(),
			Type:    cyclonedx.ComponentTypeApplication,
			Name:    leaf.Component.Name,
			Version: leaf.SBOM.Version,
			ExternalReferences: &[]cyclonedx.ExternalReference{{
				Type: cyclonedx.ERTypeBOM,
				URL:  url,
			}},
		})
	}

	for i := range documentLeaves {
		leaf := &documentLeaves[i]
		included, public, err := s.admitLeaf(ctx, caller, &leaf.Component, visibilities)
		if err != nil {
			return nil, err
		}
		if !included {
			continue
		}
		url, err := s.leafURL(fmt.Sprintf("/api/v1/documents/%s/download", leaf.Document.ID), leaf.Document.ID, caller.userID, public)
		if err != nil {
			return nil, err
		}
		components = append(components, cyclonedx.Component{
			BOMRef:  leaf.Document.ID.String(),
			Type:    cyclonedx.ComponentTypeData,
			Name:    leaf.Component.Name + "/" + leaf.Document.Name,
			Version: leaf.Document.Version,
			ExternalReferences: &[]cyclonedx.ExternalReference{{
				Type: cyclonedx.ERTypeDocumentation,
				URL:  url,
			}},
		})
	}

	bom := cyclonedx.NewBOM()
	bom.Metadata = &cyclonedx.Metadata{
		Component: &cyclonedx.Component{
			Type:    cyclonedx.ComponentTypeApplication,
			Name:    product.Name,
			Version: release.Name,
		},
	}
	bom.Components = &components

	var buf bytes.Buffer
	encoder := cyclonedx.NewBOMEncoder(&buf, cyclonedx.BOMFileFormatJSON)
	encoder.SetPretty(false)
	if err := encoder.Encode(bom); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// collectLeaves gathers, dedupes and orders the release's artifact
// set before any permission filtering.
func (s *service) collectLeaves(ctx context.Context, release *domain.Release) ([]domain.SBOMLeaf, []domain.DocumentLeaf, error) {
	var (
		sbomLeaves     []domain.SBOMLeaf
		documentLeaves []domain.DocumentLeaf
		err            error
	)
	if release.IsLatest {
		sbomLeaves, err = s.repo.ListLatestSBOMLeaves(ctx, release.ProductID)
	} else {
		sbomLeaves, err = s.repo.ListSBOMLeaves(ctx, release.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !release.IsLatest {
		documentLeaves, err = s.repo.ListDocumentLeaves(ctx, release.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	seenSBOMs := map[snowflake.ID]bool{}
	uniqueSBOMs := sbomLeaves[:0]
	for _, leaf := range sbomLeaves {
		if seenSBOMs[leaf.SBOM.ID] {
			continue
		}
		seenSBOMs[leaf.SBOM.ID] = true
		uniqueSBOMs = append(uniqueSBOMs, leaf)
	}
	seenDocs := map[snowflake.ID]bool{}
	uniqueDocs := documentLeaves[:0]
	for _, leaf := range documentLeaves {
		if seenDocs[leaf.Document.ID] {
			continue
		}
		seenDocs[leaf.Document.ID] = true
		uniqueDocs = append(uniqueDocs, leaf)
	}

	sort.Slice(uniqueSBOMs, func(i, j int) bool {
		a, b := &uniqueSBOMs[i], &uniqueSBOMs[j]
		if a.Component.Name != b.Component.Name {
			return a.Component.Name < b.Component.Name
		}
		if a.SBOM.Version != b.SBOM.Version {
			return a.SBOM.Version < b.SBOM.Version
		}
		return a.SBOM.ID < b.SBOM.ID
	})
	sort.Slice(uniqueDocs, func(i, j int) bool {
		a, b := &uniqueDocs[i], &uniqueDocs[j]
		if a.Component.Name != b.Component.Name {
			return a.Component.Name < b.Component.Name
		}
		if a.Document.Name != b.Document.Name {
			return a.Document.Name < b.Document.Name
		}
		return a.Document.ID < b.Document.ID
	})
	return uniqueSBOMs, uniqueDocs, nil
}

// admitLeaf runs the access resolver for one leaf. The second return
// reports whether the leaf is effectively public, which decides plain
// versus signed URLs.
func (s *service) admitLeaf(ctx context.Context, caller *callerContext, component *catalogdomain.Component, visibilities map[snowflake.ID]catalogdomain.Visibility) (bool, bool, error) {
	visibility, ok := visibilities[component.ID]
	if !ok {
		var err error
		visibility, err = s.visibility.EffectiveComponentVisibility(ctx, component.ID)
		if err != nil {
			if errors.Is(err, catalogdomain.ErrComponentNotFound) {
				return false, false, nil
			}
			return false, false, err
		}
		visibilities[component.ID] = visibility
	}

	decision := access.Evaluate(access.Input{
		Role:                caller.role,
		PaymentRestricted:   caller.paymentRestricted,
		EffectiveVisibility: visibility,
		IsGlobalDocument:    component.IsGlobal && component.ComponentType == catalogdomain.ComponentTypeDocument,
		CompanyNDA:          caller.nda,
		Request:             caller.request,
	})
	if !decision.Allowed() {
		return false, false, nil
	}
	public := visibility == catalogdomain.VisibilityPublic ||
		(component.IsGlobal && component.ComponentType == catalogdomain.ComponentTypeDocument)
	return true, public, nil
}

func (s *service) leafURL(path string, artifactID, userID snowflake.ID, public bool) (string, error) {
	base := s.cfg.AppBaseURL + path
	if public {
		return base, nil
	}
	issuedAt := time.Now().Truncate(tokenQuantum)
	token, _, err := s.signer.MintAt(artifactID, userID, issuedAt)
	if err != nil {
		return "", err
	}
	return base + "/signed?token=" + token, nil
}

// resolveCaller fetches the caller's standing with the workspace once
// so per-leaf evaluation stays pure.
func (s *service) resolveCaller(ctx context.Context, ws *workspacedomain.Workspace, callerID snowflake.ID) (*callerContext, error) {
	caller := &callerContext{userID: callerID}

	var limits billingdomain.PlanLimits
	if len(ws.PlanLimits) > 0 {
		if err := json.Unmarshal(ws.PlanLimits, &limits); err != nil {
			return nil, err
		}
	}
	caller.paymentRestricted = limits.SubscriptionStatus == billingdomain.StatusPastDue ||
		limits.SubscriptionStatus == billingdomain.StatusSuspended

	if ws.CompanyNDADocumentID != nil {
		doc, err := s.catalog.FindDocumentByID(ctx, *ws.CompanyNDADocumentID)
		if err == nil {
			caller.nda = &access.NDAInfo{DocumentID: doc.ID, ContentHash: doc.ContentHash}
		} else if !errors.Is(err, catalogdomain.ErrDocumentNotFound) {
			return nil, err
		}
	}

	if callerID == 0 {
		return caller, nil
	}

	member, err := s.workspaces.FindMember(ctx, ws.ID, callerID)
	if err == nil {
		role := member.Role
		caller.role = &role
	} else if !errors.Is(err, workspacedomain.ErrMemberNotFound) {
		return nil, err
	}

	request, err := s.requests.FindRequest(ctx, ws.ID, callerID)
	if err != nil {
		if errors.Is(err, accessrequestdomain.ErrRequestNotFound) {
			return caller, nil
		}
		return nil, err
	}
	info := &access.RequestInfo{Status: request.Status}
	signature, err := s.requests.FindSignatureByRequest(ctx, request.ID)
	if err == nil {
		info.Signature = &access.SignatureInfo{
			DocumentID:  signature.NDADocumentID,
			ContentHash: signature.NDAContentHash,
		}
	} else if !errors.Is(err, accessrequestdomain.ErrRequestNotFound) {
		return nil, err
	}
	caller.request = info
	return caller, nil
}
