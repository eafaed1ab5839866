package iam

import "strings"

// ============================================================================
// RESOURCE SCOPE MATCHING
// ============================================================================

// MatchScope reports whether a resource id falls under a scope pattern.
//
// Three pattern forms are recognized:
//
//	""          matches every resource (subject to the binding scope fallback
//	            applied by the caller)
//	"invoice:*" matches any id sharing the "invoice" prefix, including the
//	            bare prefix itself
//	anything    else must equal the resource id exactly
func MatchScope(pattern, resourceID string) bool {
	if pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		if resourceID == prefix {
			return true
		}
		return strings.HasPrefix(resourceID, prefix+":")
	}
	return pattern == resourceID
}

// matchPermissionScope resolves the effective pattern for a role permission:
// when the permission carries no pattern of its own, the binding's resource
// scope applies instead.
func matchPermissionScope(rp *RolePermission, binding *RoleBinding, resourceID string) bool {
	pattern := rp.ResourcePattern
	if pattern == "" {
		pattern = binding.ResourceScope
	}
	return MatchScope(pattern, resourceID)
}
