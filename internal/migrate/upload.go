// Package migrate recreates dumped schemas and records in a destination
// account. Schema creation is dependency-ordered: immediate properties at
// create time, then deferred properties in relation → rollup → formula phases,
// because the destination API rejects definitions that reference a schema or
// property that does not exist yet.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ndm-tool/ndm/internal/dump"
	"github.com/ndm-tool/ndm/internal/mapping"
	"github.com/ndm-tool/ndm/internal/notion"
	"github.com/ndm-tool/ndm/internal/schema"
)

type Uploader struct {
	API          notion.API
	ParentPageID string
	DumpDir      string
	IncludeData  bool
	Log          zerolog.Logger
}

type Result struct {
	Created         []string
	Skipped         []string
	DatabaseMap     map[string]string
	PagesCopied     int
	RelationUpdates int
	Warnings        []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run uploads the dump at DumpDir under ParentPageID. Schemas whose title
// already exists at the destination are skipped, which is what makes a re-run
// of the same dump idempotent.
func (u *Uploader) Run(ctx context.Context) (*Result, error) {
	manifest, sets, err := dump.Load(u.DumpDir)
	if err != nil {
		return nil, err
	}

	res := &Result{DatabaseMap: map[string]string{}}

	var order []string
	byID := map[string]*notion.Database{}
	for _, set := range sets {
		if set.SourceDatabaseID == "" || set.Database == nil {
			res.warnf("skipped invalid dump record (missing source database id or schema)")
			continue
		}
		order = append(order, set.SourceDatabaseID)
		byID[set.SourceDatabaseID] = set.Database
	}

	// Property-id→name tables for every dumped schema, so formula tokens can
	// resolve across schema boundaries.
	byDatabase := map[string]schema.PropertyIndex{}
	for id, db := range byID {
		byDatabase[notion.NormalizeID(id)] = schema.IndexProperties(db)
	}
	rewriterFor := func(sourceID string) func(string) string {
		rw := &schema.Rewriter{Own: byDatabase[notion.NormalizeID(sourceID)], ByDatabase: byDatabase}
		return rw.Rewrite
	}

	existing, err := u.discoverExisting(ctx)
	if err != nil {
		return nil, err
	}

	skipped := map[string]bool{}
	store := &mapping.Store{}
	u.Log.Info().Int("databases", len(order)).Msg("creating destination databases")
	for _, sourceID := range order {
		db := byID[sourceID]
		title := db.PlainTitle()
		if destID, ok := existing[title]; ok && title != "" {
			u.Log.Info().Str("source", sourceID).Str("destination", destID).Str("title", title).Msg("database already exists, skipping")
			res.Skipped = append(res.Skipped, sourceID)
			res.DatabaseMap[sourceID] = destID
			skipped[sourceID] = true
			store.Databases = append(store.Databases, mapping.DatabaseMapping{SourceID: sourceID, DestinationID: destID})
			store.SkippedDatabases = append(store.SkippedDatabases, sourceID)
			continue
		}

		tr := &schema.Translator{DatabaseMap: res.DatabaseMap, Rewrite: rewriterFor(sourceID)}
		immediate, _, warns := tr.BuildProperties(db.Properties)
		for _, w := range warns {
			res.warnf("%s: %s", sourceID, w)
		}

		created, err := u.API.CreateDatabase(ctx, u.ParentPageID, schema.DatabaseTitle(db), schema.PayloadMap(immediate))
		if err != nil {
			return nil, fmt.Errorf("create database for %s: %w", sourceID, err)
		}
		u.Log.Info().Str("source", sourceID).Str("destination", created.ID).Msg("created database")
		res.Created = append(res.Created, sourceID)
		res.DatabaseMap[sourceID] = created.ID
		store.Databases = append(store.Databases, mapping.DatabaseMapping{SourceID: sourceID, DestinationID: created.ID})
	}

	// Persist schema mappings before deferred application so an interrupted
	// run can still be repaired from the store.
	if err := store.Save(u.DumpDir); err != nil {
		return nil, err
	}

	for _, class := range []string{schema.ClassRelation, schema.ClassRollup, schema.ClassFormula} {
		u.applyDeferredPhase(ctx, class, order, byID, skipped, rewriterFor, res)
	}

	if err := u.recordRewrittenFormulas(order, byID, rewriterFor); err != nil {
		res.warnf("could not record rewritten formulas: %v", err)
	}

	if u.IncludeData {
		if !manifest.IncludeData {
			res.warnf("upload requested record data, but the dump was created without data")
		} else {
			u.migrateRecords(ctx, sets, res)
		}
	}

	return res, nil
}

// discoverExisting indexes the destination parent's child databases by title.
func (u *Uploader) discoverExisting(ctx context.Context) (map[string]string, error) {
	existing := map[string]string{}
	cursor := u.API.ListChildBlocks(u.ParentPageID)
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
		db, err := u.API.GetDatabase(ctx, block.ID)
		if err != nil {
			return nil, fmt.Errorf("inspect existing database %s: %w", block.ID, err)
		}
		if title := db.PlainTitle(); title != "" {
			existing[title] = db.ID
		}
	}
	return existing, nil
}

// applyDeferredPhase re-translates each newly created schema with the now
// complete database map and applies only the properties of the given class,
// one update call per property. A failed property is warned and skipped;
// skipped schemas are assumed already fully configured and never touched.
func (u *Uploader) applyDeferredPhase(ctx context.Context, class string, order []string, byID map[string]*notion.Database, skipped map[string]bool, rewriterFor func(string) func(string) string, res *Result) {
	u.Log.Info().Str("phase", class).Msg("applying deferred properties")
	for _, sourceID := range order {
		if skipped[sourceID] {
			continue
		}
		destID, ok := res.DatabaseMap[sourceID]
		if !ok {
			continue
		}
		tr := &schema.Translator{DatabaseMap: res.DatabaseMap, Rewrite: rewriterFor(sourceID)}
		_, deferred, _ := tr.BuildProperties(byID[sourceID].Properties)

		for _, name := range sortedNames(deferred) {
			t := deferred[name]
			if t.Class != class {
				continue
			}
			if _, err := u.API.UpdateDatabase(ctx, destID, map[string]any{name: t.Payload()}); err != nil {
				res.warnf("%s: could not apply %s property %q: %v", sourceID, class, name, err)
				continue
			}
			u.Log.Debug().Str("database", destID).Str("property", name).Str("phase", class).Msg("applied deferred property")
		}
	}
}

// recordRewrittenFormulas merges pre- and post-rewrite formula expressions
// into the mapping store for later inspection.
func (u *Uploader) recordRewrittenFormulas(order []string, byID map[string]*notion.Database, rewriterFor func(string) func(string) string) error {
	store := &mapping.Store{}
	for _, sourceID := range order {
		rewrite := rewriterFor(sourceID)
		for name, prop := range byID[sourceID].Properties {
			if prop.Type != "formula" || prop.Formula == nil || prop.Formula.Expression == "" {
				continue
			}
			store.Formulas = append(store.Formulas, mapping.FormulaDescriptor{
				SourceDatabaseID:    sourceID,
				PropertyName:        name,
				Expression:          prop.Formula.Expression,
				RewrittenExpression: rewrite(prop.Formula.Expression),
			})
		}
	}
	if len(store.Formulas) == 0 {
		return nil
	}
	return store.Save(u.DumpDir)
}

func sortedNames(props map[string]schema.Translated) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
