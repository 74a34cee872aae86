package records

import "github.com/MarcoPoloResearchLab/schemata/internal/auth"

// Allowed applies the coarse access gate of a collection rule.
// Admins always pass. A nil rule is admin only, an empty rule is public and any
// other rule requires an authenticated caller; rule bodies are not evaluated.
func Allowed(rule *string, principal *auth.Principal) bool {
	if principal != nil && principal.IsAdmin() {
		return true
	}
	if rule == nil {
		return false
	}
	if *rule == "" {
		return true
	}
	return principal != nil
}
