package tenants

import (
	"errors"
	"time"
)

// ErrTenantNotFound is returned for unknown tenant codes. Inactive tenants
// are reported separately by the registry so the evaluator can name the
// reason, but every downstream check treats them identically to unknown.
var ErrTenantNotFound = errors.New("tenant not found")

// Tenant is a bounded authorization scope with its own roles and permissions
type Tenant struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
