package schema

import (
	"strings"

	"github.com/ganigeorgiev/fexpr"
)

var baseSystemFields = []string{"id", "created", "updated", "collectionId", "collectionName", "expand"}

var authSystemFields = []string{
	"username", "email", "emailVisibility", "verified", "tokenKey", "passwordHash",
	"lastResetSentAt", "lastVerificationSentAt", "password", "passwordConfirm", "oldPassword",
}

// SystemFieldNames returns the implicit field names of a collection kind.
func SystemFieldNames(kind Kind) []string {
	names := append([]string(nil), baseSystemFields...)
	if kind == KindAuth {
		names = append(names, authSystemFields...)
	}
	return names
}

// RuleIdentifiers parses an access rule and returns every plain identifier it references.
// Identifiers prefixed with "@" are platform macros and are returned as-is.
func RuleIdentifiers(rule string) ([]string, error) {
	if strings.TrimSpace(rule) == "" {
		return nil, nil
	}
	groups, err := fexpr.Parse(rule)
	if err != nil {
		return nil, err
	}
	identifiers := make([]string, 0)
	collectIdentifiers(groups, &identifiers)
	return identifiers, nil
}

func collectIdentifiers(groups []fexpr.ExprGroup, identifiers *[]string) {
	for _, group := range groups {
		switch item := group.Item.(type) {
		case fexpr.Expr:
			for _, token := range []fexpr.Token{item.Left, item.Right} {
				if token.Type == fexpr.TokenIdentifier {
					*identifiers = append(*identifiers, token.Literal)
				}
			}
		case []fexpr.ExprGroup:
			collectIdentifiers(item, identifiers)
		}
	}
}

// identifierRoot strips json paths, relation paths and modifiers from an identifier.
func identifierRoot(identifier string) string {
	root := identifier
	if idx := strings.Index(root, "."); idx >= 0 {
		root = root[:idx]
	}
	if idx := strings.Index(root, ":"); idx >= 0 {
		root = root[:idx]
	}
	return root
}

func isLiteralIdentifier(identifier string) bool {
	switch strings.ToLower(identifier) {
	case "null", "true", "false":
		return true
	}
	return false
}

// unknownRuleReferences returns the identifiers of rule that resolve to no known field.
func unknownRuleReferences(rule string, known map[string]struct{}) ([]string, error) {
	identifiers, err := RuleIdentifiers(rule)
	if err != nil {
		return nil, err
	}
	unknown := make([]string, 0)
	for _, identifier := range identifiers {
		if strings.HasPrefix(identifier, "@") || isLiteralIdentifier(identifier) {
			continue
		}
		if _, ok := known[strings.ToLower(identifierRoot(identifier))]; !ok {
			unknown = append(unknown, identifier)
		}
	}
	return unknown, nil
}
