package importer

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/schemata/internal/schema"
	"go.uber.org/multierr"
)

const parkedNamePrefix = "_parked_"

// plan is the ordered set of mutations reconciling the live schema with a snapshot.
type plan struct {
	deletes []schema.Collection
	parks   []schema.Collection
	creates []schema.Collection
	updates []collectionUpdate
	same    []string
}

type collectionUpdate struct {
	live    schema.Collection
	desired schema.Collection
	dropped []schema.Field
	renamed []fieldRename
}

type fieldRename struct {
	id   string
	from string
	to   string
}

// validateTarget checks every descriptor and the snapshot as a whole before anything is mutated.
func validateTarget(target []schema.Collection, live []schema.Collection, opts Options) error {
	var err error
	for _, collection := range target {
		err = multierr.Append(err, schema.Validate(collection))
	}
	if err != nil {
		return err
	}

	liveByID := indexByID(live)
	seenIDs := make(map[string]struct{}, len(target))
	finalNames := make(map[string]string, len(target)+len(live))
	finalIDs := make(map[string]struct{}, len(target)+len(live))

	for _, collection := range target {
		if _, ok := seenIDs[collection.ID]; ok {
			return schema.NewValidationError(collection.ID, schema.CodeDuplicateID, "collection id declared more than once")
		}
		seenIDs[collection.ID] = struct{}{}

		key := schema.NameKey(collection.Name)
		if owner, ok := finalNames[key]; ok {
			return schema.NewValidationError(collection.ID, schema.CodeDuplicateName,
				fmt.Sprintf("name %q is also declared by collection %q", collection.Name, owner))
		}
		finalNames[key] = collection.ID
		finalIDs[collection.ID] = struct{}{}

		existing, ok := liveByID[collection.ID]
		if !ok {
			continue
		}
		if existing.Kind != collection.Kind {
			return schema.NewValidationError(collection.ID, schema.CodeKindChange,
				fmt.Sprintf("kind cannot change from %s to %s", existing.Kind, collection.Kind))
		}
		if existing.System != collection.System {
			return schema.NewValidationError(collection.ID, schema.CodeSystemChange, "system flag cannot change")
		}
		if !opts.DeleteMissing {
			if err := validateKeptFields(existing, collection); err != nil {
				return err
			}
		}
	}

	for _, collection := range live {
		if _, ok := seenIDs[collection.ID]; ok {
			continue
		}
		if opts.DeleteMissing && deletable(collection, opts) {
			continue
		}
		key := schema.NameKey(collection.Name)
		if owner, ok := finalNames[key]; ok {
			return schema.NewValidationError(owner, schema.CodeNameConflict,
				fmt.Sprintf("name %q is used by retained collection %q", collection.Name, collection.ID))
		}
		finalNames[key] = collection.ID
		finalIDs[collection.ID] = struct{}{}
	}

	for _, collection := range target {
		for _, field := range collection.Fields {
			relation, ok := field.Options.(schema.RelationOptions)
			if !ok {
				continue
			}
			if _, ok := finalIDs[relation.CollectionID]; !ok {
				return schema.NewValidationError(collection.ID, schema.CodeMissingRelated,
					fmt.Sprintf("field %q references unknown collection %q", field.Name, relation.CollectionID))
			}
		}
	}
	return nil
}

// validateKeptFields rejects a non-destructive import whose retained live fields clash with the target fields.
func validateKeptFields(live, target schema.Collection) error {
	names := make(map[string]string, len(target.Fields))
	for _, field := range target.Fields {
		names[strings.ToLower(field.Name)] = field.ID
	}
	for _, field := range live.Fields {
		if _, ok := target.FieldByID(field.ID); ok {
			continue
		}
		if owner, ok := names[strings.ToLower(field.Name)]; ok && owner != field.ID {
			return schema.NewValidationError(target.ID, schema.CodeDuplicateName,
				fmt.Sprintf("retained field %q (%s) clashes with field %s", field.Name, field.ID, owner))
		}
	}
	return nil
}

func buildPlan(target []schema.Collection, live []schema.Collection, opts Options) plan {
	var result plan
	liveByID := indexByID(live)
	targetIDs := make(map[string]struct{}, len(target))
	claimedNames := make(map[string]string, len(target))
	for _, collection := range target {
		targetIDs[collection.ID] = struct{}{}
		claimedNames[schema.NameKey(collection.Name)] = collection.ID
	}

	if opts.DeleteMissing {
		for _, collection := range live {
			if _, ok := targetIDs[collection.ID]; ok {
				continue
			}
			if deletable(collection, opts) {
				result.deletes = append(result.deletes, collection)
			}
		}
	}

	for _, collection := range target {
		existing, ok := liveByID[collection.ID]
		if !ok {
			result.creates = append(result.creates, collection)
			continue
		}

		desired, dropped, renamed := mergeFields(existing, collection, opts.DeleteMissing)
		desired.Created = existing.Created
		desired.Updated = ""
		if schema.Equal(existing, desired) {
			result.same = append(result.same, collection.ID)
			continue
		}

		if owner, claimed := claimedNames[schema.NameKey(existing.Name)]; claimed && owner != existing.ID {
			parked := existing.Clone()
			parked.Name = parkedNamePrefix + existing.ID
			result.parks = append(result.parks, parked)
		}
		result.updates = append(result.updates, collectionUpdate{
			live:    existing,
			desired: desired,
			dropped: dropped,
			renamed: renamed,
		})
	}
	return result
}

// mergeFields diffs the live and target fields by id and returns the desired collection.
// Without deleteMissing, live fields unknown to the target are kept after the target fields.
// System fields are never dropped.
func mergeFields(live, target schema.Collection, deleteMissing bool) (schema.Collection, []schema.Field, []fieldRename) {
	desired := target.Clone()
	var dropped []schema.Field
	var renamed []fieldRename

	for _, field := range live.Fields {
		next, ok := target.FieldByID(field.ID)
		if ok {
			if next.Name != field.Name {
				renamed = append(renamed, fieldRename{id: field.ID, from: field.Name, to: next.Name})
			}
			continue
		}
		if deleteMissing && !field.System {
			dropped = append(dropped, field)
			continue
		}
		desired.Fields = append(desired.Fields, field.Clone())
	}
	return desired, dropped, renamed
}

func deletable(collection schema.Collection, opts Options) bool {
	if collection.System {
		return false
	}
	if opts.Protect != nil && opts.Protect(collection) {
		return false
	}
	return true
}

func indexByID(collections []schema.Collection) map[string]schema.Collection {
	indexed := make(map[string]schema.Collection, len(collections))
	for _, collection := range collections {
		indexed[collection.ID] = collection
	}
	return indexed
}
