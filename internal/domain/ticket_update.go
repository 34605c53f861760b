package domain

import "time"

// UpdateAuthorType indicates who authored an update.
type UpdateAuthorType string

const (
	AuthorTypeCitizen UpdateAuthorType = "CITIZEN"
	AuthorTypeStaff   UpdateAuthorType = "STAFF"
)

// ParseAuthorType is case-insensitive.
func ParseAuthorType(raw string) (UpdateAuthorType, bool) {
	switch normalizeEnum(raw) {
	case "CITIZEN":
		return AuthorTypeCitizen, true
	case "STAFF":
		return AuthorTypeStaff, true
	}
	return "", false
}

// TicketUpdate is one entry of the append-only ticket thread.
type TicketUpdate struct {
	ID         string           `json:"id"`
	Author     string           `json:"author"`
	AuthorType UpdateAuthorType `json:"author_type"`
	Message    string           `json:"message"`
	CreatedAt  time.Time        `json:"created_at"`
}
