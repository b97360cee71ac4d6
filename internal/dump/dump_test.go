package dump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ndm-tool/ndm/internal/mapping"
	"github.com/ndm-tool/ndm/internal/notion"
)

type fakeAPI struct {
	databases map[string]*notion.Database
	pages     map[string][]notion.Page
	searched  []notion.Database
}

func (f *fakeAPI) GetDatabase(_ context.Context, id string) (*notion.Database, error) {
	db, ok := f.databases[id]
	if !ok {
		return nil, fmt.Errorf("no such database %s", id)
	}
	return db, nil
}

func (f *fakeAPI) CreateDatabase(context.Context, string, []notion.RichText, map[string]any) (*notion.Database, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeAPI) UpdateDatabase(context.Context, string, map[string]any) (*notion.Database, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeAPI) QueryDatabase(id string) *notion.Cursor[notion.Page] {
	return notion.CursorFromSlice(f.pages[id])
}

func (f *fakeAPI) SearchDatabases() *notion.Cursor[notion.Database] {
	return notion.CursorFromSlice(f.searched)
}

func (f *fakeAPI) ListChildBlocks(string) *notion.Cursor[notion.Block] {
	return notion.CursorFromSlice[notion.Block](nil)
}

func (f *fakeAPI) CreatePage(context.Context, string, map[string]any, json.RawMessage, json.RawMessage) (*notion.Page, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeAPI) UpdatePage(context.Context, string, map[string]any) (*notion.Page, error) {
	return nil, fmt.Errorf("not supported")
}

func titleOf(s string) []notion.RichText {
	return []notion.RichText{{Type: "text", Text: &notion.TextContent{Content: s}, PlainText: s}}
}

func TestParseDatabaseIDs(t *testing.T) {
	got := ParseDatabaseIDs([]string{"a, b", "c", "b", " ", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResolveDatabaseIDs(t *testing.T) {
	api := &fakeAPI{searched: []notion.Database{{ID: "found-1"}, {ID: "found-2"}}}

	ids, err := ResolveDatabaseIDs(context.Background(), api, []string{"manual"}, true, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "manual" {
		t.Fatalf("manual ids must come first: %v", ids)
	}

	if _, err := ResolveDatabaseIDs(context.Background(), &fakeAPI{}, nil, false, zerolog.Nop()); err == nil {
		t.Fatal("empty id set must be an error")
	}
}

func TestSafeFileName(t *testing.T) {
	if got := SafeFileName("ab/cd:ef", ""); got != "ab_cd_ef.json" {
		t.Fatalf("got %q", got)
	}
	if got := SafeFileName("abc-123", ".gz"); got != "abc-123.json.gz" {
		t.Fatalf("got %q", got)
	}
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	api := &fakeAPI{
		databases: map[string]*notion.Database{
			"db-1": {
				ID:    "db-1",
				Title: titleOf("Tasks"),
				Properties: map[string]notion.PropertySchema{
					"Name":   {ID: "t", Type: "title"},
					"Parent": {ID: "r", Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "db-2", Type: "dual_property"}},
					"Total":  {ID: "u", Type: "rollup", Rollup: &notion.RollupConfig{RelationPropertyName: "Parent", RollupPropertyName: "Name", Function: "count"}},
					"Calc":   {ID: "f", Type: "formula", Formula: &notion.FormulaConfig{Expression: "1 + 1"}},
				},
			},
		},
		pages: map[string][]notion.Page{
			"db-1": {{ID: "page-1"}, {ID: "page-2"}},
		},
	}

	dir := t.TempDir()
	manifest, err := Write(context.Background(), api, []string{"db-1"}, Options{Dir: dir, IncludeData: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Databases) != 1 || manifest.Databases[0].PageCount != 2 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	loaded, sets, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.FormatVersion != FormatVersion {
		t.Fatalf("format version = %d", loaded.FormatVersion)
	}
	if len(sets) != 1 || sets[0].SourceDatabaseID != "db-1" {
		t.Fatalf("unexpected record sets: %+v", sets)
	}
	if len(sets[0].Pages) != 2 {
		t.Fatalf("pages lost: %+v", sets[0].Pages)
	}
	if sets[0].Database.PlainTitle() != "Tasks" {
		t.Fatalf("title lost: %q", sets[0].Database.PlainTitle())
	}

	store, err := mapping.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.Relations) != 1 || store.Relations[0].Mode != "dual_property" {
		t.Fatalf("relation descriptor not captured: %+v", store.Relations)
	}
	if len(store.Rollups) != 1 || len(store.Formulas) != 1 {
		t.Fatalf("descriptors not captured: %+v", store)
	}
}

func TestWriteCompressedRoundTrip(t *testing.T) {
	api := &fakeAPI{
		databases: map[string]*notion.Database{
			"db-1": {ID: "db-1", Title: titleOf("Zipped"), Properties: map[string]notion.PropertySchema{
				"Name": {ID: "t", Type: "title"},
			}},
		},
	}

	dir := t.TempDir()
	manifest, err := Write(context.Background(), api, []string{"db-1"}, Options{Dir: dir, Compression: "gzip"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Databases[0].File != "databases/db-1.json.gz" {
		t.Fatalf("unexpected file name: %q", manifest.Databases[0].File)
	}

	_, sets, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if sets[0].Database.PlainTitle() != "Zipped" {
		t.Fatalf("compressed round trip lost data: %+v", sets[0].Database)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, _, err := Load(t.TempDir())
	var fe *FormatError
	if err == nil {
		t.Fatal("missing manifest must fail")
	}
	if !errors.As(err, &fe) {
		t.Fatalf("want FormatError, got %T: %v", err, err)
	}
}

func TestLoadUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(Manifest{FormatVersion: FormatVersion + 1})
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(dir)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("want FormatError, got %T: %v", err, err)
	}
}

func TestLoadMissingRecordFile(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(Manifest{
		FormatVersion: FormatVersion,
		Databases:     []ManifestEntry{{SourceDatabaseID: "db-1", File: "databases/db-1.json"}},
	})
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o600); err != nil {
		t.Fatal(err)
	}
	_, _, err := Load(dir)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("want FormatError, got %T: %v", err, err)
	}
}

