package rbac

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rolesFile is the on-disk shape of the role definitions file:
//
//	roles:
//	  editor:
//	    capabilities:
//	      docs:edit: allow
//	      docs:delete: deny
type rolesFile struct {
	Roles map[string]roleSpec `yaml:"roles"`
}

type roleSpec struct {
	Capabilities map[string]Value `yaml:"capabilities"`
}

// LoadRoles reads role definitions from a YAML file. A missing file yields an
// empty set (every capability check then resolves to deny), not an error.
func LoadRoles(path string) (map[string]Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Role{}, nil
		}
		return nil, fmt.Errorf("read roles file %s: %w", path, err)
	}

	var rf rolesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}

	roles := make(map[string]Role, len(rf.Roles))
	for name, spec := range rf.Roles {
		for key, value := range spec.Capabilities {
			if !value.Valid() {
				return nil, fmt.Errorf("roles file %s: role %q capability %q has unknown value %q", path, name, key, value)
			}
		}
		roles[name] = Role{Name: name, Capabilities: spec.Capabilities}
	}
	return roles, nil
}

// Resolve maps assigned role names to their definitions, skipping unknown names.
func Resolve(defined map[string]Role, assigned []string) []Role {
	var roles []Role
	for _, name := range assigned {
		if role, ok := defined[name]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
