// Package credentials coordinates refresh of shared access tokens so that at
// most one refresh per owner is in flight across every coordinator sharing a
// lock registry.
package credentials

import (
	"fmt"
	"maps"
	"time"
)

// State is the lifecycle stage of an owner's token.
type State string

const (
	StateNoToken    State = "NO_TOKEN"
	StateRefreshing State = "REFRESHING_TOKEN"
	StateHasToken   State = "HAS_TOKEN"
)

// RefreshError reports a failed token retrieval for an owner. The owner's
// state is back to NO_TOKEN when it is returned.
type RefreshError struct {
	OwnerID string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("credentials: refresh for owner %s failed: %v", e.OwnerID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// OwnerState is the token state of one resource owner.
type OwnerState struct {
	OwnerID      string            `json:"owner_id"`
	State        State             `json:"state"`
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at,omitzero"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func newOwnerState(ownerID string) *OwnerState {
	return &OwnerState{OwnerID: ownerID, State: StateNoToken}
}

// Clone returns a deep copy.
func (s *OwnerState) Clone() *OwnerState {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// Usable reports whether the access token can be handed out at now. Tokens
// within buffer of expiry are not usable so they get refreshed ahead of time.
func (s *OwnerState) Usable(now time.Time, buffer time.Duration) bool {
	if s.State != StateHasToken || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt.Add(-buffer))
}
