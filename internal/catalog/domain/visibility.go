package domain

import "errors"

// Visibility controls who may read an item. Products and Projects
// expose the same three states through their is_public derivation.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityGated   Visibility = "gated"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityGated:
		return true
	}
	return false
}

// ParseVisibility validates a wire value.
func ParseVisibility(raw string) (Visibility, error) {
	v := Visibility(raw)
	if !v.Valid() {
		return "", ErrInvalidVisibility
	}
	return v, nil
}

var ErrInvalidVisibility = errors.New("invalid_visibility")
