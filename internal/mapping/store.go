// Package mapping persists source→destination identifier correspondences
// between runs. The store is the only state shared by the upload and repair
// phases: repair can run long after a migration, against the store alone.
package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ndm-tool/ndm/internal/notion"
)

const FileName = "id_mapping.json"

type DatabaseMapping struct {
	SourceID      string `json:"source_id"`
	DestinationID string `json:"destination_id"`
}

// RelationDescriptor captures a relation property as seen at dump time.
type RelationDescriptor struct {
	SourceDatabaseID string `json:"source_database_id"`
	PropertyName     string `json:"property_name"`
	TargetDatabaseID string `json:"target_database_id"`
	Mode             string `json:"mode,omitempty"` // single_property or dual_property
}

type RollupDescriptor struct {
	SourceDatabaseID     string `json:"source_database_id"`
	PropertyName         string `json:"property_name"`
	RelationPropertyName string `json:"relation_property_name"`
	RollupPropertyName   string `json:"rollup_property_name"`
	Function             string `json:"function"`
}

type FormulaDescriptor struct {
	SourceDatabaseID    string `json:"source_database_id"`
	PropertyName        string `json:"property_name"`
	Expression          string `json:"expression"`
	RewrittenExpression string `json:"rewritten_expression,omitempty"`
}

type Store struct {
	UpdatedAt        time.Time            `json:"updated_at"`
	Databases        []DatabaseMapping    `json:"databases"`
	SkippedDatabases []string             `json:"skipped_databases,omitempty"`
	Relations        []RelationDescriptor `json:"relations,omitempty"`
	Rollups          []RollupDescriptor   `json:"rollups,omitempty"`
	Formulas         []FormulaDescriptor  `json:"formulas,omitempty"`
}

// Load reads the store from dir. A missing file is not an error; it yields an
// empty store so first runs and legacy dumps work unchanged.
func Load(dir string) (*Store, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return &Store{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mapping store: %w", err)
	}
	var store Store
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("decode mapping store: %w", err)
	}
	return &store, nil
}

// Save merges the receiver into whatever is already on disk and writes the
// result. Merging is additive: entries recorded by earlier runs survive unless
// this run carries a newer value for the same key.
func (s *Store) Save(dir string) error {
	existing, err := Load(dir)
	if err != nil {
		return err
	}
	existing.Merge(s)
	existing.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0o600)
}

// Merge folds other into s, replacing entries that share a key and appending
// the rest.
func (s *Store) Merge(other *Store) {
	for _, m := range other.Databases {
		s.setDatabase(m)
	}
	s.SkippedDatabases = mergeStrings(s.SkippedDatabases, other.SkippedDatabases)
	for _, r := range other.Relations {
		s.setRelation(r)
	}
	for _, r := range other.Rollups {
		s.setRollup(r)
	}
	for _, f := range other.Formulas {
		s.setFormula(f)
	}
}

func (s *Store) setDatabase(m DatabaseMapping) {
	for i, cur := range s.Databases {
		if cur.SourceID == m.SourceID {
			s.Databases[i] = m
			return
		}
	}
	s.Databases = append(s.Databases, m)
}

func (s *Store) setRelation(r RelationDescriptor) {
	for i, cur := range s.Relations {
		if cur.SourceDatabaseID == r.SourceDatabaseID && cur.PropertyName == r.PropertyName {
			s.Relations[i] = r
			return
		}
	}
	s.Relations = append(s.Relations, r)
}

func (s *Store) setRollup(r RollupDescriptor) {
	for i, cur := range s.Rollups {
		if cur.SourceDatabaseID == r.SourceDatabaseID && cur.PropertyName == r.PropertyName {
			s.Rollups[i] = r
			return
		}
	}
	s.Rollups = append(s.Rollups, r)
}

func (s *Store) setFormula(f FormulaDescriptor) {
	for i, cur := range s.Formulas {
		if cur.SourceDatabaseID == f.SourceDatabaseID && cur.PropertyName == f.PropertyName {
			s.Formulas[i] = f
			return
		}
	}
	s.Formulas = append(s.Formulas, f)
}

func mergeStrings(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		base = append(base, v)
	}
	sort.Strings(base)
	return base
}

// DatabaseMap returns source id → destination id.
func (s *Store) DatabaseMap() map[string]string {
	out := make(map[string]string, len(s.Databases))
	for _, m := range s.Databases {
		out[m.SourceID] = m.DestinationID
	}
	return out
}

// SourceByDestination returns normalized destination id → source id, for
// resolving a destination schema back to its origin regardless of identifier
// formatting.
func (s *Store) SourceByDestination() map[string]string {
	out := make(map[string]string, len(s.Databases))
	for _, m := range s.Databases {
		out[notion.NormalizeID(m.DestinationID)] = m.SourceID
	}
	return out
}

// Empty reports whether the store carries no schema mappings, which is how a
// legacy dump (no id_mapping.json) presents after Load.
func (s *Store) Empty() bool {
	return len(s.Databases) == 0
}
