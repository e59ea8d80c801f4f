package auth

import "strings"

// Helpdesk roles as issued by the identity provider.
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleAgent   = "Agent"
)

// AuditorRoles may verify the audit chain and browse audit entries.
var AuditorRoles = []string{RoleAdmin}

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Allowed reports whether d grants access.
func (d Decision) Allowed() bool {
	return d == Allow
}

// Authorize allows the caller when it holds at least one of the
// required roles. Role names compare case-insensitively. An empty
// required set always denies.
func Authorize(callerRoles, requiredRoles []string) Decision {
	if len(requiredRoles) == 0 || len(callerRoles) == 0 {
		return Deny
	}

	for _, required := range requiredRoles {
		required = strings.TrimSpace(required)
		if required == "" {
			continue
		}
		for _, held := range callerRoles {
			if strings.EqualFold(strings.TrimSpace(held), required) {
				return Allow
			}
		}
	}
	return Deny
}
