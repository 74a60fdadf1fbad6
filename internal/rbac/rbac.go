// Package rbac computes effective user capabilities from assigned roles.
//
// Each role carries capability key → value mappings; a user's effective value
// for a key is the highest-precedence value across all roles. The merge is
// commutative, so role ordering never matters.
package rbac

// Value is one of the fixed role-capability values, ranked by precedence.
type Value string

const (
	ValueAllow      Value = "allow"
	ValueConsent    Value = "consent"
	ValueCompliance Value = "compliance"
	ValueScoped     Value = "scoped"
	ValueAnonymized Value = "anonymized"
	ValueDeny       Value = "deny"
)

// precedence ranks values highest-first: allow > consent > compliance >
// scoped == anonymized > deny. Unknown values rank below deny and never win.
func precedence(v Value) int {
	switch v {
	case ValueAllow:
		return 5
	case ValueConsent:
		return 4
	case ValueCompliance:
		return 3
	case ValueScoped, ValueAnonymized:
		return 2
	case ValueDeny:
		return 1
	default:
		return 0
	}
}

// Valid reports whether v belongs to the closed value set.
func (v Value) Valid() bool {
	return precedence(v) > 0
}

// Permits reports whether the value grants any form of access.
// Only deny (and anything unknown) refuses.
func (v Value) Permits() bool {
	return v.Valid() && v != ValueDeny
}

// Role is a named set of capability grants.
type Role struct {
	Name         string           `yaml:"name"`
	Capabilities map[string]Value `yaml:"capabilities"`
}

// EffectiveCapabilities merges the capability mappings of all roles into one
// effective value per key, keeping the highest-precedence value. Keys absent
// from the result must be treated as deny by callers.
func EffectiveCapabilities(roles []Role) map[string]Value {
	effective := make(map[string]Value)
	for _, role := range roles {
		for key, value := range role.Capabilities {
			if !value.Valid() {
				continue
			}
			if current, ok := effective[key]; !ok || precedence(value) > precedence(current) {
				effective[key] = value
			}
		}
	}
	return effective
}

// Effective returns the effective value for a single capability key,
// defaulting to deny when no role grants it.
func Effective(roles []Role, key string) Value {
	value := ValueDeny
	for _, role := range roles {
		v, ok := role.Capabilities[key]
		if !ok || !v.Valid() {
			continue
		}
		if precedence(v) > precedence(value) {
			value = v
		}
	}
	return value
}
