package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution names the rule class that produced an endpoint's permissions
type Resolution string

const (
	ResolutionExact        Resolution = "exact"
	ResolutionParam        Resolution = "param"
	ResolutionWildcard     Resolution = "wildcard"
	ResolutionFallback     Resolution = "fallback"
	ResolutionDefaultAllow Resolution = "default_allow"
	ResolutionDefaultDeny  Resolution = "default_deny"
)

type endpointRule struct {
	key      string
	method   string
	segments []string
	prefix   string
	literals int
	perms    []Permission
}

type endpointTable struct {
	exact     map[string][]Permission
	params    []endpointRule
	wildcards []endpointRule
}

func newEndpointTable(rules map[string][]Permission) (*endpointTable, error) {
	t := &endpointTable{exact: make(map[string][]Permission)}

	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		method, pattern, ok := strings.Cut(key, ":")
		if !ok || method == "" || !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("invalid endpoint rule %q (want METHOD:/path)", key)
		}
		method = strings.ToUpper(method)
		perms := append([]Permission(nil), rules[key]...)

		if strings.HasSuffix(pattern, "*") && strings.Contains(pattern, "/:") {
			return nil, fmt.Errorf("invalid endpoint rule %q (a wildcard rule cannot have :params)", key)
		}

		switch {
		case strings.HasSuffix(pattern, "*"):
			prefix := strings.TrimSuffix(pattern, "*")
			t.wildcards = append(t.wildcards, endpointRule{key: key, method: method, prefix: prefix, perms: perms})
		case strings.Contains(pattern, "/:"):
			segs := splitPath(pattern)
			literals := 0
			for _, s := range segs {
				if !strings.HasPrefix(s, ":") {
					literals++
				}
			}
			t.params = append(t.params, endpointRule{key: key, method: method, segments: segs, literals: literals, perms: perms})
		default:
			t.exact[method+":"+normalizePath(pattern)] = perms
		}
	}

	// most specific first; ties keep key order
	sort.SliceStable(t.params, func(i, j int) bool { return t.params[i].literals > t.params[j].literals })
	sort.SliceStable(t.wildcards, func(i, j int) bool { return len(t.wildcards[i].prefix) > len(t.wildcards[j].prefix) })
	return t, nil
}

func (t *endpointTable) lookup(method, path string) ([]Permission, Resolution, bool) {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	if perms, ok := t.exact[method+":"+path]; ok {
		return perms, ResolutionExact, true
	}

	segs := splitPath(path)
	for _, rule := range t.params {
		if rule.method == method && matchSegments(rule.segments, segs) {
			return rule.perms, ResolutionParam, true
		}
	}

	for _, rule := range t.wildcards {
		if rule.method == method && strings.HasPrefix(path, rule.prefix) {
			return rule.perms, ResolutionWildcard, true
		}
	}
	return nil, "", false
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return false
			}
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// EndpointPermissions returns the permissions required for method and
// path, and which rule class decided it. A nil list with
// ResolutionDefaultDeny means the request must be refused.
func (m *Model) EndpointPermissions(method, path string) ([]Permission, Resolution) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if perms, res, ok := m.endpoints.lookup(method, path); ok {
		return append([]Permission(nil), perms...), res
	}
	if len(m.fallback) > 0 {
		return append([]Permission(nil), m.fallback...), ResolutionFallback
	}
	if m.decision == DecisionAllow {
		return nil, ResolutionDefaultAllow
	}
	return nil, ResolutionDefaultDeny
}
