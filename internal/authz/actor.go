package authz

import "time"

// Actor is the resolved identity for the current request. The identity
// provider integration creates and refreshes these rows on sign-in; the
// guard only reads them.
type Actor struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	ExtraRoles  []string  `json:"extra_roles,omitempty"`

	// Legacy per-actor moderation grants, kept as a fallback for members
	// that predate capability bags.
	ModeratesAlco  bool `json:"moderates_alco"`
	ModeratesPetra bool `json:"moderates_petra"`

	Blocked  bool `json:"blocked"`
	Approved bool `json:"approved"`
	Frozen   bool `json:"frozen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
