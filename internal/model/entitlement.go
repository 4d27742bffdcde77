package model

import "time"

// GrantStatus is the provisioning state of an entitlement grant.
type GrantStatus string

const (
	GrantStatusActive GrantStatus = "active"
)

// EntitlementGrant is a budget of attempts held by a principal.
// RemainingAttempts nil means unlimited; ExpiresAt nil means never.
type EntitlementGrant struct {
	ID                int64       `json:"id"`
	PrincipalID       int         `json:"principal_id"`
	Status            GrantStatus `json:"status"`
	RemainingAttempts *int        `json:"remaining_attempts,omitempty"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
}

// Unlimited reports whether the grant has no attempt cap.
func (g EntitlementGrant) Unlimited() bool {
	return g.RemainingAttempts == nil
}

// Expired reports whether the grant's expiry has passed at now.
func (g EntitlementGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Effective reports whether the grant is active and unexpired at now.
func (g EntitlementGrant) Effective(now time.Time) bool {
	return g.Status == GrantStatusActive && !g.Expired(now)
}

// DenyReason explains why access was refused.
type DenyReason string

const (
	DenyNoEntitlement DenyReason = "no_entitlement"
	DenyExhausted     DenyReason = "exhausted"
	DenyExpired       DenyReason = "expired"
	DenyCourseAccess  DenyReason = "course_access"
)

// AccessContext describes the gated unit of work.
type AccessContext struct {
	CourseID *int64
}

// AccessStatus is the answer to a check_access query.
type AccessStatus struct {
	Allowed   bool       `json:"allowed"`
	Unlimited bool       `json:"unlimited"`
	Remaining *int       `json:"remaining,omitempty"`
	Reason    DenyReason `json:"reason,omitempty"`
}
