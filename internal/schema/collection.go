package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Kind enumerates the supported collection kinds.
type Kind string

const (
	// KindBase is a plain document collection.
	KindBase Kind = "base"
	// KindAuth is a collection whose records authenticate.
	KindAuth Kind = "auth"
	// KindView is a read-only collection backed by a query.
	KindView Kind = "view"
)

// ErrUnknownKind indicates that a collection declares an unsupported kind.
var ErrUnknownKind = errors.New("schema: unknown collection kind")

// ParseKind validates raw input and returns a Kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.TrimSpace(raw)) {
	case KindBase:
		return KindBase, nil
	case KindAuth:
		return KindAuth, nil
	case KindView:
		return KindView, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Rules holds the access-rule predicates of a collection.
// A nil rule restricts the action to admins, an empty rule allows everyone.
type Rules struct {
	List   *string
	View   *string
	Create *string
	Update *string
	Delete *string
}

// Rule is a helper returning a pointer to the supplied predicate.
func Rule(predicate string) *string {
	return &predicate
}

func (r Rules) named() map[string]*string {
	return map[string]*string{
		"listRule":   r.List,
		"viewRule":   r.View,
		"createRule": r.Create,
		"updateRule": r.Update,
		"deleteRule": r.Delete,
	}
}

func (r Rules) clone() Rules {
	return Rules{
		List:   cloneString(r.List),
		View:   cloneString(r.View),
		Create: cloneString(r.Create),
		Update: cloneString(r.Update),
		Delete: cloneString(r.Delete),
	}
}

// Collection describes the desired shape of one collection.
// ID is the reconciliation key and never changes once created.
type Collection struct {
	ID      string
	Name    string
	Kind    Kind
	System  bool
	Fields  []Field
	Indexes []string
	Rules   Rules
	Options CollectionOptions
	Created string
	Updated string
}

// FieldByID returns the field with the provided id.
func (c Collection) FieldByID(id string) (Field, bool) {
	for _, field := range c.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}

// FieldByName returns the field with the provided name, compared case-insensitively.
func (c Collection) FieldByName(name string) (Field, bool) {
	for _, field := range c.Fields {
		if strings.EqualFold(field.Name, name) {
			return field, true
		}
	}
	return Field{}, false
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	cloned := c
	cloned.Rules = c.Rules.clone()
	if c.Fields != nil {
		cloned.Fields = make([]Field, len(c.Fields))
		for i, field := range c.Fields {
			cloned.Fields[i] = field.Clone()
		}
	}
	cloned.Indexes = cloneStrings(c.Indexes)
	cloned.Options = cloneCollectionOptions(c.Options)
	return cloned
}

// NameKey returns the case-folded name used for uniqueness checks.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Snapshot is an immutable, ordered set of collections describing desired schema state.
type Snapshot struct {
	collections []Collection
}

// NewSnapshot copies the provided collections into a new Snapshot.
func NewSnapshot(collections ...Collection) Snapshot {
	copied := make([]Collection, len(collections))
	for i, collection := range collections {
		copied[i] = collection.Clone()
	}
	return Snapshot{collections: copied}
}

// Collections returns a copy of the snapshot's collections in declaration order.
func (s Snapshot) Collections() []Collection {
	copied := make([]Collection, len(s.collections))
	for i, collection := range s.collections {
		copied[i] = collection.Clone()
	}
	return copied
}

// Len returns the number of collections in the snapshot.
func (s Snapshot) Len() int {
	return len(s.collections)
}

// Lookup returns the collection with the provided id.
func (s Snapshot) Lookup(id string) (Collection, bool) {
	for _, collection := range s.collections {
		if collection.ID == id {
			return collection.Clone(), true
		}
	}
	return Collection{}, false
}

// IDs returns the collection ids in declaration order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.collections))
	for _, collection := range s.collections {
		ids = append(ids, collection.ID)
	}
	return ids
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	copied := make([]string, len(values))
	copy(copied, values)
	return copied
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
