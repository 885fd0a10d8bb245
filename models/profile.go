package models

import "time"

const (
	DefaultProfileID   = "primary"
	DefaultProfileName = "Primary Profile"
)

// Profile is a local user profile. The ID doubles as the remote store's
// per-user collection key once the profile is signed in.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PinHash   string    `json:"pinHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
