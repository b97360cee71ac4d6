package repair

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndm-tool/ndm/internal/dump"
	"github.com/ndm-tool/ndm/internal/mapping"
	"github.com/ndm-tool/ndm/internal/notion"
)

type fakeAPI struct {
	source      map[string]*notion.Database
	children    []notion.Block
	destination map[string]*notion.Database
	updates     map[string]map[string]any
	failOn      map[string]bool
}

func (f *fakeAPI) GetDatabase(_ context.Context, id string) (*notion.Database, error) {
	if f.failOn[id] {
		return nil, fmt.Errorf("boom")
	}
	if db, ok := f.source[id]; ok {
		return db, nil
	}
	if db, ok := f.destination[id]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("no such database %s", id)
}

func (f *fakeAPI) CreateDatabase(context.Context, string, []notion.RichText, map[string]any) (*notion.Database, error) {
	return nil, fmt.Errorf("not supported")
}

func (f *fakeAPI) UpdateDatabase(_ context.Context, id string, properties map[string]any) (*notion.Database, error) {
	if f.updates == nil {
		f.updates = map[string]map[string]any{}
	}
	f.updates[id] = properties
	return &notion.Database{ID: id}, nil
}

func (f *fakeAPI) QueryDatabase(string) *notion.Cursor[notion.Page] {
	return notion.CursorFromSlice[notion.Page](nil)
}

func (f *fakeAPI) SearchDatabases() *notion.Cursor[notion.Database] {
	return notion.CursorFromSlice[notion.Database](nil)
}

func (f *fakeAPI) ListChildBlocks(string) *notion.Cursor[notion.Block] {
	return notion.CursorFromSlice(f.children)
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

// writeDump snapshots the given source schemas through the real writer so the
// repairer reads dump files of the production shape.
func writeDump(t *testing.T, source map[string]*notion.Database, ids []string) (string, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{source: source}
	dir := t.TempDir()
	if _, err := dump.Write(context.Background(), api, ids, dump.Options{Dir: dir}, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	return dir, api
}

func sourceWithOriginalDuplicateName() map[string]*notion.Database {
	return map[string]*notion.Database{
		"src-1": {
			ID:    "src-1",
			Title: titleOf("Projects"),
			Properties: map[string]notion.PropertySchema{
				"Name": {ID: "tt", Type: "title"},
				// A user-authored property that happens to carry the reserved
				// prefix. It must never be deleted.
				"Related to Tasks": {ID: "r1", Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "src-2"}},
				"Owner":            {ID: "r2", Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "src-3"}},
			},
		},
	}
}

func TestRunDeletesDuplicatesByMapping(t *testing.T) {
	dir, api := writeDump(t, sourceWithOriginalDuplicateName(), []string{"src-1"})

	store := &mapping.Store{Databases: []mapping.DatabaseMapping{{SourceID: "src-1", DestinationID: "dest-1"}}}
	if err := store.Save(dir); err != nil {
		t.Fatal(err)
	}

	api.children = []notion.Block{{ID: "dest-1", Type: notion.BlockTypeChildDatabase}}
	api.destination = map[string]*notion.Database{
		"dest-1": {
			ID:    "dest-1",
			Title: titleOf("Projects"),
			Properties: map[string]notion.PropertySchema{
				"Name":             {Type: "title"},
				"Related to Tasks": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "dst-2"}},
				"Owner":            {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "dst-3"}},
				// Auto-generated reverse relations: not on the source schema.
				"Related to Projects": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "dst-9"}},
				"Related to Sprints":  {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "dst-8"}},
			},
		},
	}

	r := &Repairer{API: api, ParentPageID: "parent", DumpDir: dir, Pace: time.Millisecond, Log: zerolog.Nop()}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.DatabasesChecked != 1 || res.Deleted != 2 {
		t.Fatalf("checked=%d deleted=%d", res.DatabasesChecked, res.Deleted)
	}
	update := api.updates["dest-1"]
	if len(update) != 2 {
		t.Fatalf("unexpected update: %v", update)
	}
	for _, name := range []string{"Related to Projects", "Related to Sprints"} {
		v, ok := update[name]
		if !ok || v != nil {
			t.Fatalf("%q must be deleted via a nil property: %v", name, update)
		}
	}
	if _, ok := update["Related to Tasks"]; ok {
		t.Fatal("original property sharing the prefix must survive")
	}
}

func TestRunUnmappedDestinationUntouched(t *testing.T) {
	dir, api := writeDump(t, sourceWithOriginalDuplicateName(), []string{"src-1"})

	store := &mapping.Store{Databases: []mapping.DatabaseMapping{{SourceID: "src-1", DestinationID: "dest-1"}}}
	if err := store.Save(dir); err != nil {
		t.Fatal(err)
	}

	// A foreign database under the same parent, absent from the store.
	api.children = []notion.Block{{ID: "foreign", Type: notion.BlockTypeChildDatabase}}
	api.destination = map[string]*notion.Database{
		"foreign": {
			ID:    "foreign",
			Title: titleOf("Unrelated"),
			Properties: map[string]notion.PropertySchema{
				"Related to Anything": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "x"}},
			},
		},
	}

	r := &Repairer{API: api, ParentPageID: "parent", DumpDir: dir, Pace: time.Millisecond, Log: zerolog.Nop()}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 0 || len(api.updates) != 0 {
		t.Fatalf("unmapped databases must not be modified: deleted=%d updates=%v", res.Deleted, api.updates)
	}
}

func TestRunTitleFallbackRequiresCorroboration(t *testing.T) {
	source := map[string]*notion.Database{
		"src-1": {
			ID:    "src-1",
			Title: titleOf("Projects"),
			Properties: map[string]notion.PropertySchema{
				"Name":  {ID: "tt", Type: "title"},
				"Tasks": {ID: "r1", Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "target-db"}},
			},
		},
	}
	dir, api := writeDump(t, source, []string{"src-1"})
	// No mapping store beyond the skeleton: forces the title fallback.

	api.children = []notion.Block{{ID: "dest-1", Type: notion.BlockTypeChildDatabase}}
	api.destination = map[string]*notion.Database{
		"dest-1": {
			ID:    "dest-1",
			Title: titleOf("Projects"),
			Properties: map[string]notion.PropertySchema{
				"Name":  {Type: "title"},
				"Tasks": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "TARGET-DB"}},
				// Same target as Tasks (modulo id formatting): corroborated.
				"Related to Projects": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "target-db"}},
				// Different target: no original points here, keep it.
				"Related to Elsewhere": {Type: "relation", Relation: &notion.RelationConfig{DatabaseID: "other-db"}},
			},
		},
	}

	r := &Repairer{API: api, ParentPageID: "parent", DumpDir: dir, Pace: time.Millisecond, Log: zerolog.Nop()}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", res.Deleted)
	}
	update := api.updates["dest-1"]
	if _, ok := update["Related to Projects"]; !ok {
		t.Fatalf("corroborated duplicate must be deleted: %v", update)
	}
	if _, ok := update["Related to Elsewhere"]; ok {
		t.Fatal("uncorroborated candidate must survive the title fallback")
	}
}

func TestRunInspectFailureIsWarning(t *testing.T) {
	dir, api := writeDump(t, sourceWithOriginalDuplicateName(), []string{"src-1"})

	store := &mapping.Store{Databases: []mapping.DatabaseMapping{{SourceID: "src-1", DestinationID: "dest-1"}}}
	if err := store.Save(dir); err != nil {
		t.Fatal(err)
	}

	api.children = []notion.Block{{ID: "dest-1", Type: notion.BlockTypeChildDatabase}}
	api.failOn = map[string]bool{"dest-1": true}

	r := &Repairer{API: api, ParentPageID: "parent", DumpDir: dir, Pace: time.Millisecond, Log: zerolog.Nop()}
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("inspection failure must surface as a warning: %+v", res)
	}
	if res.DatabasesChecked != 0 {
		t.Fatalf("failed database must not count as checked: %d", res.DatabasesChecked)
	}
}
