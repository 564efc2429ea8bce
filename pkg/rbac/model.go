package rbac

import (
	"fmt"
	"sort"
	"sync"

	"github.com/platinummonkey/carebridge/pkg/users"
)

// Decision applies when no endpoint rule or fallback matches
type Decision string

const (
	DecisionDeny  Decision = "deny"
	DecisionAllow Decision = "allow"
)

// Policy is the full permission configuration of a Model
type Policy struct {
	Roles           Hierarchy               `yaml:"roles"`
	Endpoints       map[string][]Permission `yaml:"endpoints"`
	Fallback        []Permission            `yaml:"fallback"`
	DefaultDecision Decision                `yaml:"default_decision"`
}

// DefaultPolicy is the built-in hierarchy with the admin endpoint rules
func DefaultPolicy() Policy {
	return Policy{
		Roles: DefaultHierarchy(),
		Endpoints: map[string][]Permission{
			"GET:/api/admin/audit/*":          {PermissionAuditRead},
			"POST:/api/admin/audit/retention": {PermissionAuditManage},
			"GET:/api/admin/users/*":          {PermissionUsersReadAny},
			"PUT:/api/admin/users/:id/status": {PermissionUsersManage},
			"POST:/api/admin/professionals/:id/verify": {
				PermissionProfessionalsVerify,
			},
		},
		DefaultDecision: DecisionDeny,
	}
}

type effectiveSet struct {
	list []Permission
	set  map[Permission]struct{}
}

// Model resolves effective permissions and endpoint rules. It is safe for
// concurrent use and can be swapped atomically with Replace.
type Model struct {
	mu        sync.RWMutex
	roles     Hierarchy
	endpoints *endpointTable
	fallback  []Permission
	decision  Decision

	memoMu sync.Mutex
	memo   map[users.Role]*effectiveSet
}

// NewModel validates p and builds a Model from it
func NewModel(p Policy) (*Model, error) {
	m := &Model{}
	if err := m.Replace(p); err != nil {
		return nil, err
	}
	return m, nil
}

// DefaultModel returns a Model over DefaultPolicy
func DefaultModel() *Model {
	m, err := NewModel(DefaultPolicy())
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid default policy: %v", err))
	}
	return m
}

// Replace swaps in a new policy. An invalid policy leaves the model as it was.
func (m *Model) Replace(p Policy) error {
	if p.DefaultDecision == "" {
		p.DefaultDecision = DecisionDeny
	}
	if p.DefaultDecision != DecisionDeny && p.DefaultDecision != DecisionAllow {
		return fmt.Errorf("invalid default decision %q", p.DefaultDecision)
	}
	for role, def := range p.Roles {
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", role)
		}
		for _, parent := range def.Inherits {
			if _, ok := p.Roles[parent]; !ok {
				return fmt.Errorf("role %q inherits undefined role %q", role, parent)
			}
		}
	}

	table, err := newEndpointTable(p.Endpoints)
	if err != nil {
		return err
	}

	if _, ok := p.Roles[users.RoleSuperAdmin]; ok {
		if _, all := resolve(p.Roles, users.RoleSuperAdmin).set[PermissionAll]; !all {
			return fmt.Errorf("role %q must hold %s", users.RoleSuperAdmin, PermissionAll)
		}
	}

	m.mu.Lock()
	m.roles = p.Roles
	m.endpoints = table
	m.fallback = append([]Permission(nil), p.Fallback...)
	m.decision = p.DefaultDecision
	m.mu.Unlock()

	m.memoMu.Lock()
	m.memo = make(map[users.Role]*effectiveSet)
	m.memoMu.Unlock()
	return nil
}

// DefaultDecision returns the decision used when nothing matches
func (m *Model) DefaultDecision() Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.decision
}

// EffectivePermissions returns the sorted union of role's own and inherited
// permissions. Unknown roles have none.
func (m *Model) EffectivePermissions(role users.Role) []Permission {
	return append([]Permission(nil), m.effective(role).list...)
}

func (m *Model) effective(role users.Role) *effectiveSet {
	m.memoMu.Lock()
	defer m.memoMu.Unlock()

	if es, ok := m.memo[role]; ok {
		return es
	}

	m.mu.RLock()
	es := resolve(m.roles, role)
	m.mu.RUnlock()

	m.memo[role] = es
	return es
}

func resolve(h Hierarchy, role users.Role) *effectiveSet {
	set := make(map[Permission]struct{})
	collect(h, role, set, make(map[users.Role]bool))

	list := make([]Permission, 0, len(set))
	for p := range set {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return &effectiveSet{list: list, set: set}
}

// collect walks the inheritance chain; visited breaks cycles
func collect(h Hierarchy, role users.Role, set map[Permission]struct{}, visited map[users.Role]bool) {
	if visited[role] {
		return
	}
	visited[role] = true

	def, ok := h[role]
	if !ok {
		return
	}
	for _, p := range def.Permissions {
		set[p] = struct{}{}
	}
	for _, parent := range def.Inherits {
		collect(h, parent, set, visited)
	}
}

// HasPermission reports whether role holds p directly, by inheritance, or
// through PermissionAll
func (m *Model) HasPermission(role users.Role, p Permission) bool {
	es := m.effective(role)
	if _, ok := es.set[PermissionAll]; ok {
		return true
	}
	_, ok := es.set[p]
	return ok
}

// HasAnyPermission is true when role holds at least one of perms
func (m *Model) HasAnyPermission(role users.Role, perms []Permission) bool {
	for _, p := range perms {
		if m.HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions is true when role holds every one of perms
func (m *Model) HasAllPermissions(role users.Role, perms []Permission) bool {
	for _, p := range perms {
		if !m.HasPermission(role, p) {
			return false
		}
	}
	return true
}

// Check applies HasAllPermissions when strict and HasAnyPermission
// otherwise. An empty requirement always passes.
func (m *Model) Check(role users.Role, perms []Permission, strict bool) bool {
	if len(perms) == 0 {
		return true
	}
	if strict {
		return m.HasAllPermissions(role, perms)
	}
	return m.HasAnyPermission(role, perms)
}
