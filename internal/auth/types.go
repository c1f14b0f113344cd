package auth

import (
	"fmt"
	"strings"
	"time"
)

// Plan is a subscription tier with its quotas.
type Plan string

const (
	PlanTrial      Plan = "trial"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Quota holds per-plan limits. Zero means unlimited.
type Quota struct {
	MaxUsers int
	MaxSites int
}

var planQuotas = map[Plan]Quota{
	PlanTrial:      {MaxUsers: 10, MaxSites: 2},
	PlanBasic:      {MaxUsers: 50, MaxSites: 10},
	PlanPro:        {MaxUsers: 250, MaxSites: 50},
	PlanEnterprise: {},
}

func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PlanTrial, nil
	}
	if _, ok := planQuotas[p]; !ok {
		return "", fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, s)
	}
	return p, nil
}

// Quota returns the limits that come with the plan.
func (p Plan) Quota() Quota { return planQuotas[p] }

// Subscription states.
const (
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionCancelled = "cancelled"
)

func validSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionActive, SubscriptionPastDue, SubscriptionCancelled:
		return true
	}
	return false
}

// Tenant is an isolated customer account.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Plan               Plan      `json:"plan"`
	SubscriptionStatus string    `json:"subscription_status"`
	MaxUsers           int       `json:"max_users"`
	MaxSites           int       `json:"max_sites"`
	ActiveUsers        int       `json:"active_users"`
	ActiveSites        int       `json:"active_sites"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TenantUpdate carries optional tenant changes; nil fields stay untouched.
type TenantUpdate struct {
	Name               *string
	Plan               *Plan
	SubscriptionStatus *string
	MaxUsers           *int
	MaxSites           *int
	IsActive           *bool
}

// Validate normalizes and checks the update in place.
func (u *TenantUpdate) Validate() error {
	verr := &ValidationError{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			verr.Add("name", "must not be empty")
		}
		u.Name = &name
	}
	if u.Plan != nil {
		if _, ok := planQuotas[*u.Plan]; !ok {
			verr.Add("plan", "unknown plan")
		}
	}
	if u.SubscriptionStatus != nil && !validSubscriptionStatus(*u.SubscriptionStatus) {
		verr.Add("subscription_status", "unknown status")
	}
	if u.MaxUsers != nil && *u.MaxUsers < 0 {
		verr.Add("max_users", "must not be negative")
	}
	if u.MaxSites != nil && *u.MaxSites < 0 {
		verr.Add("max_sites", "must not be negative")
	}
	return verr.OrNil()
}

// Counter selects one of the tenant usage counters.
type Counter string

const (
	CounterUsers Counter = "users"
	CounterSites Counter = "sites"
)

// User is a human principal. TenantID is empty for the super admin.
type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Locked reports whether the account is locked at now.
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Grant is a single allowed (tenant, role, resource, action) entry.
type Grant struct {
	TenantID string   `json:"tenant_id"`
	Role     Role     `json:"role"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// Session backs a signed session token.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
