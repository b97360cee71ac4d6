// Package repair removes the reverse-relation properties the destination API
// auto-generates as a side effect of relation creation. It works from the
// persisted identifier mapping store, so it can run long after the migration
// itself; a title-based heuristic covers legacy dumps without a store.
package repair

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndm-tool/ndm/internal/dump"
	"github.com/ndm-tool/ndm/internal/mapping"
	"github.com/ndm-tool/ndm/internal/notion"
)

// DuplicatePrefix is the name prefix the destination uses for auto-generated
// reverse relations.
const DuplicatePrefix = "Related to "

// DefaultPace is the delay between per-database deletion batches, to stay
// under the destination's rate limits.
const DefaultPace = 300 * time.Millisecond

type Repairer struct {
	API          notion.API
	ParentPageID string
	DumpDir      string
	Pace         time.Duration
	Log          zerolog.Logger
}

type Result struct {
	DatabasesChecked int
	Deleted          int
	Warnings         []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run scans every child database of the parent and deletes duplicate reverse
// relations. Deletions for one database are issued as a single batched update
// with null markers.
func (r *Repairer) Run(ctx context.Context) (*Result, error) {
	_, sets, err := dump.Load(r.DumpDir)
	if err != nil {
		return nil, err
	}
	store, err := mapping.Load(r.DumpDir)
	if err != nil {
		return nil, err
	}

	namesBySource := map[string]map[string]bool{}
	setsByTitle := map[string]*dump.RecordSet{}
	for i := range sets {
		set := &sets[i]
		if set.Database == nil {
			continue
		}
		namesBySource[notion.NormalizeID(set.SourceDatabaseID)] = propertyNames(set.Database)
		if title := set.Database.PlainTitle(); title != "" {
			setsByTitle[title] = set
		}
	}

	useStore := !store.Empty()
	sourceByDest := store.SourceByDestination()
	if useStore {
		r.Log.Info().Int("mappings", len(store.Databases)).Msg("repairing with persisted id mappings")
	} else {
		r.Log.Warn().Msg("no id mappings found; falling back to title matching (best effort)")
	}

	res := &Result{}
	pace := r.Pace
	if pace <= 0 {
		pace = DefaultPace
	}

	cursor := r.API.ListChildBlocks(r.ParentPageID)
	for {
		block, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if block.Type != notion.BlockTypeChildDatabase {
			continue
		}
		db, err := r.API.GetDatabase(ctx, block.ID)
		if err != nil {
			res.warnf("could not inspect destination database %s: %v", block.ID, err)
			continue
		}
		res.DatabasesChecked++

		var toDelete []string
		if useStore {
			toDelete = r.duplicatesByMapping(db, sourceByDest, namesBySource)
		} else {
			toDelete = r.duplicatesByTitle(db, setsByTitle)
		}
		if len(toDelete) == 0 {
			continue
		}

		updates := make(map[string]any, len(toDelete))
		for _, name := range toDelete {
			updates[name] = nil
		}
		if _, err := r.API.UpdateDatabase(ctx, db.ID, updates); err != nil {
			res.warnf("could not delete duplicates on %s: %v", db.ID, err)
			continue
		}
		res.Deleted += len(toDelete)
		r.Log.Info().Str("database", db.ID).Strs("deleted", toDelete).Msg("removed duplicate relation properties")

		select {
		case <-time.After(pace):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.Log.Info().Int("deleted", res.Deleted).Int("checked", res.DatabasesChecked).Msg("repair complete")
	return res, nil
}

// duplicatesByMapping resolves the destination database back to its source via
// the store and flags every relation property that carries the reserved
// prefix but never existed on the source schema.
func (r *Repairer) duplicatesByMapping(db *notion.Database, sourceByDest map[string]string, namesBySource map[string]map[string]bool) []string {
	sourceID, ok := sourceByDest[notion.NormalizeID(db.ID)]
	if !ok {
		return nil
	}
	originals, ok := namesBySource[notion.NormalizeID(sourceID)]
	if !ok {
		return nil
	}

	var toDelete []string
	for name, prop := range db.Properties {
		if prop.Type != "relation" || !strings.HasPrefix(name, DuplicatePrefix) {
			continue
		}
		if originals[name] {
			continue
		}
		toDelete = append(toDelete, name)
	}
	sort.Strings(toDelete)
	return toDelete
}

// duplicatesByTitle is the legacy-dump fallback. Matching by title alone can
// collide, so a candidate is only flagged when some original property on the
// same schema points at the same relation target.
func (r *Repairer) duplicatesByTitle(db *notion.Database, setsByTitle map[string]*dump.RecordSet) []string {
	set, ok := setsByTitle[db.PlainTitle()]
	if !ok {
		return nil
	}
	originals := propertyNames(set.Database)

	var toDelete []string
	for name, prop := range db.Properties {
		if prop.Type != "relation" || !strings.HasPrefix(name, DuplicatePrefix) {
			continue
		}
		if originals[name] || prop.Relation == nil {
			continue
		}
		target := notion.NormalizeID(prop.Relation.DatabaseID)
		for original := range originals {
			counterpart, ok := db.Properties[original]
			if !ok || counterpart.Type != "relation" || counterpart.Relation == nil {
				continue
			}
			if notion.NormalizeID(counterpart.Relation.DatabaseID) == target {
				toDelete = append(toDelete, name)
				break
			}
		}
	}
	sort.Strings(toDelete)
	return toDelete
}

func propertyNames(db *notion.Database) map[string]bool {
	names := make(map[string]bool, len(db.Properties))
	for name := range db.Properties {
		names[name] = true
	}
	return names
}
