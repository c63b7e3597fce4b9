package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	cyclonedx "github.com/CycloneDX/cyclonedx-go"
	"github.com/sbomify/sbomify/internal/catalog/domain"
)

// sbomInfo is what upload needs out of a parsed payload.
type sbomInfo struct {
	Format        domain.SBOMFormat
	FormatVersion string
	Name          string
	Version       string
	Metadata      domain.Metadata
}

var (
	cycloneDXVersions = map[string]struct{}{
		"1.3": {}, "1.4": {}, "1.5": {}, "1.6": {}, "1.7": {},
	}
	spdxVersions = map[string]struct{}{
		"SPDX-2.0": {}, "SPDX-2.1": {}, "SPDX-2.2": {}, "SPDX-2.2.1": {}, "SPDX-2.3": {},
	}
)

// parseSBOM detects the format from the payload's own declaration and
// validates it against the matching schema version. A payload that
// declares a known format at an unknown version is an
// unsupported-version error, distinct from a malformed payload.
func parseSBOM(raw []byte) (*sbomInfo, error) {
	var probe struct {
		BOMFormat   string `json:"bomFormat"`
		SpecVersion string `json:"specVersion"`
		SpdxVersion string `json:"spdxVersion"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, domain.ErrInvalidFormat
	}

	switch {
	case probe.SpdxVersion != "":
		return parseSPDX(raw, probe.SpdxVersion)
	case probe.BOMFormat == "CycloneDX" || probe.SpecVersion != "":
		return parseCycloneDX(raw, probe.SpecVersion)
	default:
		return nil, domain.ErrInvalidFormat
	}
}

func parseCycloneDX(raw []byte, specVersion string) (*sbomInfo, error) {
	if _, ok := cycloneDXVersions[specVersion]; !ok {
		return nil, fmt.Errorf("%w: cyclonedx %s", domain.ErrUnsupportedVersion, specVersion)
	}

	var bom cyclonedx.BOM
	decoder := cyclonedx.NewBOMDecoder(bytes.NewReader(raw), cyclonedx.BOMFileFormatJSON)
	if err := decoder.Decode(&bom); err != nil {
		return nil, domain.ErrInvalidFormat
	}

	info := &sbomInfo{
		Format:        domain.FormatCycloneDX,
		FormatVersion: specVersion,
	}
	if bom.Metadata != nil {
		if bom.Metadata.Component != nil {
			info.Name = bom.Metadata.Component.Name
			info.Version = bom.Metadata.Component.Version
		}
		info.Metadata = cycloneDXMetadata(bom.Metadata)
	}
	return info, nil
}

func cycloneDXMetadata(meta *cyclonedx.Metadata) domain.Metadata {
	var out domain.Metadata
	if meta.Supplier != nil {
		out.Supplier = organizationalEntity(meta.Supplier)
	}
	if meta.Manufacture != nil {
		out.Manufacturer = organizationalEntity(meta.Manufacture)
	}
	if meta.Authors != nil {
		for _, author := range *meta.Authors {
			out.Authors = append(out.Authors, domain.Contact{Name: author.Name, Email: author.Email})
		}
	}
	if meta.Licenses != nil {
		for _, choice := range *meta.Licenses {
			switch {
			case choice.Expression != "":
				out.Licenses = append(out.Licenses, choice.Expression)
			case choice.License != nil && choice.License.ID != "":
				out.Licenses = append(out.Licenses, choice.License.ID)
			case choice.License != nil && choice.License.Name != "":
				out.Licenses = append(out.Licenses, choice.License.Name)
			}
		}
	}
	return out
}

func organizationalEntity(entity *cyclonedx.OrganizationalEntity) *domain.Entity {
	out := &domain.Entity{Name: entity.Name}
	if entity.URL != nil && len(*entity.URL) > 0 {
		out.URL = (*entity.URL)[0]
	}
	if entity.Contact != nil {
		for _, contact := range *entity.Contact {
			out.Contacts = append(out.Contacts, domain.Contact{Name: contact.Name, Email: contact.Email})
		}
	}
	return out
}

// spdxDocument is the subset of an SPDX JSON document the catalog
// records. There is no SPDX counterpart to cyclonedx-go in use, so
// the fields are decoded directly.
type spdxDocument struct {
	SpdxVersion  string `json:"spdxVersion"`
	SPDXID       string `json:"SPDXID"`
	Name         string `json:"name"`
	CreationInfo struct {
		Created  string   `json:"created"`
		Creators []string `json:"creators"`
	} `json:"creationInfo"`
	Packages []struct {
		Name        string `json:"name"`
		VersionInfo string `json:"versionInfo"`
		Supplier    string `json:"supplier"`
		LicenseInfo string `json:"licenseDeclared"`
	} `json:"packages"`
}

func parseSPDX(raw []byte, version string) (*sbomInfo, error) {
	if _, ok := spdxVersions[version]; !ok {
		return nil, fmt.Errorf("%w: spdx %s", domain.ErrUnsupportedVersion, version)
	}

	var doc spdxDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.ErrInvalidFormat
	}
	if doc.SPDXID == "" || doc.Name == "" {
		return nil, domain.ErrInvalidFormat
	}

	info := &sbomInfo{
		Format:        domain.FormatSPDX,
		FormatVersion: version,
		Name:          doc.Name,
	}
	if len(doc.Packages) > 0 {
		pkg := doc.Packages[0]
		if info.Name == "" {
			info.Name = pkg.Name
		}
		info.Version = pkg.VersionInfo
		if supplier := strings.TrimPrefix(pkg.Supplier, "Organization: "); supplier != "" && supplier != pkg.Supplier {
			info.Metadata.Supplier = &domain.Entity{Name: supplier}
		}
		if pkg.LicenseInfo != "" && pkg.LicenseInfo != "NOASSERTION" {
			info.Metadata.Licenses = []string{pkg.LicenseInfo}
		}
	}
	return info, nil
}
