package dump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndm-tool/ndm/internal/compress"
	"github.com/ndm-tool/ndm/internal/mapping"
	"github.com/ndm-tool/ndm/internal/notion"
)

// ParseDatabaseIDs flattens repeated and comma-separated id flags, preserving
// first-seen order.
func ParseDatabaseIDs(raw []string) []string {
	var ids []string
	seen := map[string]struct{}{}
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			ids = append(ids, part)
		}
	}
	return ids
}

// ResolveDatabaseIDs combines explicitly requested ids with search discovery.
// At least one id must result; an empty set is a validation error surfaced
// before any write.
func ResolveDatabaseIDs(ctx context.Context, api notion.API, manual []string, discoverAll bool, log zerolog.Logger) ([]string, error) {
	ids := append([]string(nil), manual...)
	if discoverAll {
		log.Info().Msg("discovering databases accessible to the source key")
		cursor := api.SearchDatabases()
		count := 0
		for {
			db, ok, err := cursor.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if db.ID != "" {
				ids = append(ids, db.ID)
				count++
			}
		}
		log.Info().Int("count", count).Msg("discovered databases")
	}

	deduped := ParseDatabaseIDs(ids)
	if len(deduped) == 0 {
		return nil, errors.New("at least one database id must be provided")
	}
	return deduped, nil
}

// Options controls a dump run.
type Options struct {
	Dir           string
	IncludeData   bool
	Compression   string
	NotionVersion string
}

// Write dumps the given databases into opts.Dir: one record-set file each, a
// manifest, and a mapping-store skeleton holding the relation, rollup and
// formula descriptors captured from the source schemas.
func Write(ctx context.Context, api notion.API, databaseIDs []string, opts Options, log zerolog.Logger) (*Manifest, error) {
	ext, err := compress.Extension(opts.Compression)
	if err != nil {
		return nil, err
	}
	databasesDir := filepath.Join(opts.Dir, DatabasesDir)
	if err := os.MkdirAll(databasesDir, 0o750); err != nil {
		return nil, fmt.Errorf("create dump directory: %w", err)
	}

	manifest := &Manifest{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		NotionVersion: opts.NotionVersion,
		IncludeData:   opts.IncludeData,
		Compression:   opts.Compression,
	}
	skeleton := &mapping.Store{}

	for _, databaseID := range databaseIDs {
		log.Info().Str("database", databaseID).Msg("dumping schema")
		db, err := api.GetDatabase(ctx, databaseID)
		if err != nil {
			return nil, err
		}

		var pages []notion.Page
		if opts.IncludeData {
			cursor := api.QueryDatabase(databaseID)
			for {
				page, ok, err := cursor.Next(ctx)
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				pages = append(pages, notion.Page{
					ID:         page.ID,
					Properties: page.Properties,
					Icon:       page.Icon,
					Cover:      page.Cover,
				})
			}
			log.Info().Str("database", databaseID).Int("pages", len(pages)).Msg("dumped rows")
		}

		fileName := SafeFileName(databaseID, ext)
		set := RecordSet{SourceDatabaseID: databaseID, Database: db, Pages: pages}
		if err := writeRecordSet(filepath.Join(databasesDir, fileName), set, opts.Compression); err != nil {
			return nil, err
		}

		captureDescriptors(skeleton, databaseID, db)
		manifest.Databases = append(manifest.Databases, ManifestEntry{
			SourceDatabaseID: databaseID,
			File:             path.Join(DatabasesDir, fileName),
			PageCount:        len(pages),
		})
	}

	if err := skeleton.Save(opts.Dir); err != nil {
		return nil, fmt.Errorf("write mapping skeleton: %w", err)
	}
	if err := writeJSON(filepath.Join(opts.Dir, ManifestFile), manifest); err != nil {
		return nil, err
	}
	log.Info().Str("dir", opts.Dir).Int("databases", len(manifest.Databases)).Msg("dump manifest written")
	return manifest, nil
}

// captureDescriptors records every cross-reference-bearing property so repair
// can run later from the store alone.
func captureDescriptors(store *mapping.Store, databaseID string, db *notion.Database) {
	for name, prop := range db.Properties {
		switch prop.Type {
		case "relation":
			if prop.Relation == nil {
				continue
			}
			mode := prop.Relation.Type
			if mode == "" {
				mode = "single_property"
			}
			store.Relations = append(store.Relations, mapping.RelationDescriptor{
				SourceDatabaseID: databaseID,
				PropertyName:     name,
				TargetDatabaseID: prop.Relation.DatabaseID,
				Mode:             mode,
			})
		case "rollup":
			if prop.Rollup == nil {
				continue
			}
			store.Rollups = append(store.Rollups, mapping.RollupDescriptor{
				SourceDatabaseID:     databaseID,
				PropertyName:         name,
				RelationPropertyName: prop.Rollup.RelationPropertyName,
				RollupPropertyName:   prop.Rollup.RollupPropertyName,
				Function:             prop.Rollup.Function,
			})
		case "formula":
			if prop.Formula == nil {
				continue
			}
			store.Formulas = append(store.Formulas, mapping.FormulaDescriptor{
				SourceDatabaseID: databaseID,
				PropertyName:     name,
				Expression:       prop.Formula.Expression,
			})
		}
	}
}

func writeRecordSet(path string, set RecordSet, compression string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	writer, err := compress.WrapWriter(compression, file)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(set); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return file.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
