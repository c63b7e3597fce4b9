package domain

import "encoding/json"

// Contact identifies a person in component or SBOM metadata.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Entity identifies an organization.
type Entity struct {
	Name     string    `json:"name,omitempty"`
	URL      string    `json:"url,omitempty"`
	Contacts []Contact `json:"contacts,omitempty"`
}

// Metadata is the descriptive block carried by a component row and,
// independently, by an uploaded SBOM's own metadata section.
type Metadata struct {
	Supplier     *Entity   `json:"supplier,omitempty"`
	Manufacturer *Entity   `json:"manufacturer,omitempty"`
	Authors      []Contact `json:"authors,omitempty"`
	Licenses     []string  `json:"licenses,omitempty"`
}

// DecodeMetadata reads a stored metadata column.
func DecodeMetadata(raw []byte) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// MergeMetadata combines component-held and SBOM-supplied metadata.
// The winner's fields take precedence, but an empty field in the
// winner yields to the loser, elementwise per field.
func MergeMetadata(component, sbom Metadata, componentWins bool) Metadata {
	winner, loser := sbom, component
	if componentWins {
		winner, loser = component, sbom
	}

	merged := Metadata{
		Supplier:     winner.Supplier,
		Manufacturer: winner.Manufacturer,
		Authors:      winner.Authors,
		Licenses:     winner.Licenses,
	}
	if merged.Supplier == nil || merged.Supplier.Name == "" && merged.Supplier.URL == "" {
		merged.Supplier = loser.Supplier
	}
	if merged.Manufacturer == nil || merged.Manufacturer.Name == "" && merged.Manufacturer.URL == "" {
		merged.Manufacturer = loser.Manufacturer
	}
	if len(merged.Authors) == 0 {
		merged.Authors = loser.Authors
	}
	if len(merged.Licenses) == 0 {
		merged.Licenses = loser.Licenses
	}
	return merged
}
