package schema

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Equal reports whether two collections describe the same schema.
// Field order, index order and the created/updated stamps are not significant.
func Equal(a, b Collection) bool {
	left, err := canonicalJSON(a)
	if err != nil {
		return false
	}
	right, err := canonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// Canonical returns a copy of the collection with fields sorted by id, indexes sorted
// and timestamps cleared.
func Canonical(collection Collection) Collection {
	canonical := collection.Clone()
	canonical.Created = ""
	canonical.Updated = ""
	sort.SliceStable(canonical.Fields, func(i, j int) bool {
		return canonical.Fields[i].ID < canonical.Fields[j].ID
	})
	if canonical.Indexes != nil {
		sort.Strings(canonical.Indexes)
	}
	if len(canonical.Indexes) == 0 {
		canonical.Indexes = nil
	}
	if len(canonical.Fields) == 0 {
		canonical.Fields = nil
	}
	return canonical
}

func canonicalJSON(collection Collection) ([]byte, error) {
	return json.Marshal(Canonical(collection))
}
