// Package auth maps callers to roles and roles to capabilities. Every
// component consults a single Authorizer instead of checking roles itself.
package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Role is a named bundle of capabilities.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStrategist Role = "strategist"
	RoleOperator   Role = "operator"
	RoleEmergency  Role = "emergency"
	RoleExecutor   Role = "executor"
)

var roleCapabilities = map[Role][]domain.Capability{
	RoleAdmin:      {domain.CapRoleManage},
	RoleStrategist: {domain.CapStrategyManage},
	RoleOperator: {
		domain.CapRiskManage,
		domain.CapBreakerManage,
		domain.CapSystemPause,
		domain.CapExecute,
	},
	RoleEmergency: {domain.CapSystemEmergency},
	RoleExecutor:  {domain.CapExecute},
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleCapabilities[r]; !ok {
		return "", fmt.Errorf("auth: unknown role %q", s)
	}
	return r, nil
}

// Capabilities returns the capabilities granted by r.
func (r Role) Capabilities() []domain.Capability {
	return roleCapabilities[r]
}

// RoleTable is the in-memory caller-to-role mapping. It is safe for
// concurrent use.
type RoleTable struct {
	mu    sync.RWMutex
	roles map[common.Address]map[Role]bool
}

// NewRoleTable returns a table with the given callers holding the admin role.
func NewRoleTable(admins ...common.Address) *RoleTable {
	t := &RoleTable{roles: make(map[common.Address]map[Role]bool)}
	for _, a := range admins {
		t.grant(a, RoleAdmin)
	}
	return t
}

// Seed grants roles without an authorization check. It is meant for
// bootstrapping from configuration before the table is shared.
func (t *RoleTable) Seed(who common.Address, roles ...Role) {
	for _, r := range roles {
		t.grant(who, r)
	}
}

// Grant gives who the role. The caller needs role.manage.
func (t *RoleTable) Grant(caller, who common.Address, r Role) error {
	if err := t.Authorize(caller, domain.CapRoleManage); err != nil {
		return err
	}
	if _, ok := roleCapabilities[r]; !ok {
		return fmt.Errorf("auth: unknown role %q", r)
	}
	t.grant(who, r)
	return nil
}

// Revoke removes the role from who. The caller needs role.manage.
func (t *RoleTable) Revoke(caller, who common.Address, r Role) error {
	if err := t.Authorize(caller, domain.CapRoleManage); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.roles[who], r)
	if len(t.roles[who]) == 0 {
		delete(t.roles, who)
	}
	return nil
}

// Roles lists the roles held by who in sorted order.
func (t *RoleTable) Roles(who common.Address) []Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Role, 0, len(t.roles[who]))
	for r := range t.roles[who] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authorize implements domain.Authorizer.
func (t *RoleTable) Authorize(caller common.Address, c domain.Capability) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for r := range t.roles[caller] {
		for _, have := range roleCapabilities[r] {
			if have == c {
				return nil
			}
		}
	}
	return fmt.Errorf("auth: %s lacks %s: %w", caller.Hex(), c, domain.ErrUnauthorized)
}

func (t *RoleTable) grant(who common.Address, r Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.roles[who] == nil {
		t.roles[who] = make(map[Role]bool)
	}
	t.roles[who][r] = true
}

// Compile-time interface check.
var _ domain.Authorizer = (*RoleTable)(nil)
