package models

import "strings"

// Identity is the authenticated user a pipeline session belongs to.
type Identity struct {
	UserID   string `json:"userId"`
	Language string `json:"language,omitempty"`
}

// Valid reports whether the identity can own a session.
func (i Identity) Valid() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// LanguageOr returns the identity's language, or fallback when unset.
func (i Identity) LanguageOr(fallback string) string {
	if i.Language != "" {
		return i.Language
	}
	return fallback
}
