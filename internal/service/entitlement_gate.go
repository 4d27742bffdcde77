package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-practice/internal/model"
	"github.com/stemsi/exstem-practice/internal/repository"
)

// consumeRetries bounds re-authorization after losing a decrement race.
const consumeRetries = 3

// GrantStore reads and atomically decrements entitlement grants.
type GrantStore interface {
	ListByPrincipal(ctx context.Context, principalID int) ([]model.EntitlementGrant, error)
	// Decrement returns repository.ErrStateChanged when the grant can no
	// longer be decremented.
	Decrement(ctx context.Context, grantID int64, principalID int) (int, error)
	Increment(ctx context.Context, grantID int64, principalID int) (int, error)
}

// CourseAccess is the external course access predicate.
type CourseAccess interface {
	CanAccessCourse(ctx context.Context, principalID int, courseID int64) (bool, error)
}

// Decision is the outcome of an authorization.
// Grant is nil for course-scoped access.
type Decision struct {
	Allowed      bool
	CourseScoped bool
	Grant        *model.EntitlementGrant
	Reason       model.DenyReason
}

// Err returns an *AccessDeniedError for a refused decision, nil otherwise.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &AccessDeniedError{Reason: d.Reason}
}

// needsConsume reports whether the decision draws on a finite budget.
func (d *Decision) needsConsume() bool {
	return d.Allowed && !d.CourseScoped && d.Grant != nil && !d.Grant.Unlimited()
}

// EntitlementGate decides whether a principal may perform a gated action
// and which grant pays for it.
type EntitlementGate struct {
	grants  GrantStore
	courses CourseAccess
	log     zerolog.Logger
	now     func() time.Time
}

// NewEntitlementGate creates a new EntitlementGate.
func NewEntitlementGate(grants GrantStore, courses CourseAccess, log zerolog.Logger) *EntitlementGate {
	return &EntitlementGate{
		grants:  grants,
		courses: courses,
		log:     log.With().Str("component", "entitlement_gate").Logger(),
		now:     time.Now,
	}
}

// Authorize picks the grant to draw from without consuming it.
// Course-linked work is decided by course access alone.
func (g *EntitlementGate) Authorize(ctx context.Context, principalID int, ac model.AccessContext) (*Decision, error) {
	if ac.CourseID != nil {
		ok, err := g.courses.CanAccessCourse(ctx, principalID, *ac.CourseID)
		if err != nil {
			return nil, fmt.Errorf("course access: %w", err)
		}
		if !ok {
			return &Decision{CourseScoped: true, Reason: model.DenyCourseAccess}, nil
		}
		return &Decision{Allowed: true, CourseScoped: true}, nil
	}

	grants, err := g.grants.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	now := g.now()
	effective := make([]model.EntitlementGrant, 0, len(grants))
	anyExpired := false
	for _, gr := range grants {
		if gr.Effective(now) {
			effective = append(effective, gr)
		} else if gr.Status == model.GrantStatusActive && gr.Expired(now) {
			anyExpired = true
		}
	}
	sortGrants(effective)

	var unlimited *model.EntitlementGrant
	anyExhausted := false
	for i := range effective {
		gr := &effective[i]
		if gr.Unlimited() {
			if unlimited == nil {
				unlimited = gr
			}
			continue
		}
		if *gr.RemainingAttempts > 0 {
			return &Decision{Allowed: true, Grant: gr}, nil
		}
		anyExhausted = true
	}
	if unlimited != nil {
		return &Decision{Allowed: true, Grant: unlimited}, nil
	}

	reason := model.DenyNoEntitlement
	switch {
	case anyExhausted:
		reason = model.DenyExhausted
	case anyExpired:
		reason = model.DenyExpired
	}
	return &Decision{Reason: reason}, nil
}

// Consume decrements the decision's grant by one. Course-scoped and
// unlimited decisions are free. A lost race yields repository.ErrStateChanged.
func (g *EntitlementGate) Consume(ctx context.Context, principalID int, d *Decision) error {
	if !d.needsConsume() {
		return nil
	}
	remaining, err := g.grants.Decrement(ctx, d.Grant.ID, principalID)
	if err != nil {
		return err
	}
	d.Grant.RemainingAttempts = &remaining

	g.log.Debug().
		Int("principal_id", principalID).
		Int64("grant_id", d.Grant.ID).
		Int("remaining", remaining).
		Msg("entitlement consumed")
	return nil
}

// Refund returns the attempt a decision consumed when the paid-for work
// could not be stored.
func (g *EntitlementGate) Refund(ctx context.Context, principalID int, d *Decision) error {
	if !d.needsConsume() {
		return nil
	}
	remaining, err := g.grants.Increment(ctx, d.Grant.ID, principalID)
	if err != nil {
		return fmt.Errorf("refund grant: %w", err)
	}
	d.Grant.RemainingAttempts = &remaining

	g.log.Info().
		Int("principal_id", principalID).
		Int64("grant_id", d.Grant.ID).
		Int("remaining", remaining).
		Msg("entitlement refunded")
	return nil
}

// AuthorizeAndConsume authorizes one gated unit of work and pays for it,
// re-authorizing when a concurrent call drained the chosen grant.
func (g *EntitlementGate) AuthorizeAndConsume(ctx context.Context, principalID int, ac model.AccessContext) (*Decision, error) {
	for i := 0; i < consumeRetries; i++ {
		d, err := g.Authorize(ctx, principalID, ac)
		if err != nil {
			return nil, err
		}
		if err := d.Err(); err != nil {
			return d, err
		}

		err = g.Consume(ctx, principalID, d)
		if errors.Is(err, repository.ErrStateChanged) {
			g.log.Debug().Int("principal_id", principalID).Int("try", i+1).Msg("grant drained concurrently, re-authorizing")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("consume grant: %w", err)
		}
		return d, nil
	}

	d := &Decision{Reason: model.DenyExhausted}
	return d, d.Err()
}

// CheckAccess reports whether a gated action would be allowed right now.
func (g *EntitlementGate) CheckAccess(ctx context.Context, principalID int, ac model.AccessContext) (*model.AccessStatus, error) {
	d, err := g.Authorize(ctx, principalID, ac)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return &model.AccessStatus{Reason: d.Reason}, nil
	}
	if d.CourseScoped {
		return &model.AccessStatus{Allowed: true}, nil
	}

	grants, err := g.grants.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	now := g.now()
	total := 0
	for _, gr := range grants {
		if !gr.Effective(now) {
			continue
		}
		if gr.Unlimited() {
			return &model.AccessStatus{Allowed: true, Unlimited: true}, nil
		}
		total += *gr.RemainingAttempts
	}
	return &model.AccessStatus{Allowed: true, Remaining: &total}, nil
}

// sortGrants orders by remaining attempts ascending, unlimited last, then by
// expiry ascending, no expiry last.
func sortGrants(grants []model.EntitlementGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		if c := compareNullableInt(a.RemainingAttempts, b.RemainingAttempts); c != 0 {
			return c < 0
		}
		return compareNullableTime(a.ExpiresAt, b.ExpiresAt) < 0
	})
}

func compareNullableInt(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func compareNullableTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}
