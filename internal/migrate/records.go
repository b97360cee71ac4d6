package migrate

import (
	"context"
	"encoding/json"

	"github.com/ndm-tool/ndm/internal/dump"
	"github.com/ndm-tool/ndm/internal/notion"
	"github.com/ndm-tool/ndm/internal/schema"
)

// migrateRecords creates destination pages for every record set whose schema
// has a resolved destination, then runs a second pass rewriting
// relation-valued properties through the record id map built during the first
// pass. One record's failure never blocks its siblings; it is warned, omitted
// from the id map, and any reference to it is dropped during remapping.
func (u *Uploader) migrateRecords(ctx context.Context, sets []dump.RecordSet, res *Result) {
	u.Log.Info().Msg("uploading record data")

	pageMap := map[string]string{}
	type pendingRelations struct {
		destPageID string
		refs       map[string][]notion.PageRef
	}
	var pending []pendingRelations

	for _, set := range sets {
		destID, ok := res.DatabaseMap[set.SourceDatabaseID]
		if !ok {
			continue
		}
		copied := 0
		for _, page := range set.Pages {
			props := BuildPageProperties(page.Properties)
			created, err := u.API.CreatePage(ctx, destID, props, schema.SanitizeIcon(page.Icon), schema.SanitizeCover(page.Cover))
			if err != nil {
				res.warnf("page create failed in source database %s: %v", set.SourceDatabaseID, err)
				continue
			}
			copied++
			if page.ID == "" || created.ID == "" {
				continue
			}
			pageMap[page.ID] = created.ID
			if refs := ExtractRelationRefs(page.Properties); len(refs) > 0 {
				pending = append(pending, pendingRelations{destPageID: created.ID, refs: refs})
			}
		}
		res.PagesCopied += copied
		u.Log.Info().Str("database", set.SourceDatabaseID).Int("copied", copied).Int("total", len(set.Pages)).Msg("copied pages")
	}

	u.Log.Info().Int("pages", len(pending)).Msg("rewriting relation values")
	for _, p := range pending {
		update := RemapRelations(p.refs, pageMap)
		if len(update) == 0 {
			continue
		}
		if _, err := u.API.UpdatePage(ctx, p.destPageID, update); err != nil {
			res.warnf("relation update failed for destination page %s: %v", p.destPageID, err)
			continue
		}
		res.RelationUpdates++
	}
}

// BuildPageProperties translates the writable simple-typed values of a source
// record. Select-like values travel by option name, never by internal id,
// since destination option ids differ. Relation values are handled separately
// in the second pass; computed types (formula, rollup) have no writable form.
func BuildPageProperties(source map[string]notion.PropertyValue) map[string]any {
	writable := map[string]any{}
	for name, value := range source {
		switch value.Type {
		case "title":
			text := schema.SanitizeRichText(value.Title)
			if len(text) == 0 {
				text = schema.PlainRichText("Untitled")
			}
			writable[name] = map[string]any{"title": text}
		case "rich_text":
			writable[name] = map[string]any{"rich_text": schema.SanitizeRichText(value.RichText)}
		case "number":
			writable[name] = map[string]any{"number": rawOrNil(value.Number)}
		case "select":
			writable[name] = map[string]any{"select": optionByName(value.Select)}
		case "multi_select":
			options := make([]map[string]string, 0, len(value.MultiSelect))
			for _, opt := range value.MultiSelect {
				if opt.Name == "" {
					continue
				}
				options = append(options, map[string]string{"name": opt.Name})
			}
			writable[name] = map[string]any{"multi_select": options}
		case "date":
			writable[name] = map[string]any{"date": rawOrNil(value.Date)}
		case "people":
			people := make([]map[string]string, 0, len(value.People))
			for _, person := range value.People {
				if person.ID == "" {
					continue
				}
				people = append(people, map[string]string{"id": person.ID})
			}
			writable[name] = map[string]any{"people": people}
		case "files":
			writable[name] = map[string]any{"files": sanitizeFiles(value.Files)}
		case "checkbox":
			checked := value.Checkbox != nil && *value.Checkbox
			writable[name] = map[string]any{"checkbox": checked}
		case "url":
			writable[name] = map[string]any{"url": value.URL}
		case "email":
			writable[name] = map[string]any{"email": value.Email}
		case "phone_number":
			writable[name] = map[string]any{"phone_number": value.PhoneNumber}
		case "status":
			writable[name] = map[string]any{"status": optionByName(value.Status)}
		}
	}
	return writable
}

// ExtractRelationRefs pulls the relation-valued properties of a source record,
// still in source id space.
func ExtractRelationRefs(source map[string]notion.PropertyValue) map[string][]notion.PageRef {
	refs := map[string][]notion.PageRef{}
	for name, value := range source {
		if value.Type != "relation" {
			continue
		}
		var ids []notion.PageRef
		for _, ref := range value.Relation {
			if ref.ID != "" {
				ids = append(ids, ref)
			}
		}
		refs[name] = ids
	}
	return refs
}

// RemapRelations rewrites relation references through the source→destination
// record map. References that do not resolve are dropped.
func RemapRelations(refs map[string][]notion.PageRef, pageMap map[string]string) map[string]any {
	update := map[string]any{}
	for name, sourceRefs := range refs {
		mapped := make([]notion.PageRef, 0, len(sourceRefs))
		for _, ref := range sourceRefs {
			if destID, ok := pageMap[ref.ID]; ok {
				mapped = append(mapped, notion.PageRef{ID: destID})
			}
		}
		update[name] = map[string]any{"relation": mapped}
	}
	return update
}

func optionByName(value *notion.SelectValue) any {
	if value == nil || value.Name == "" {
		return nil
	}
	return map[string]string{"name": value.Name}
}

func sanitizeFiles(files []notion.FileValue) []map[string]any {
	out := make([]map[string]any, 0, len(files))
	for _, file := range files {
		if file.Type != "external" || file.External == nil || file.External.URL == "" {
			continue
		}
		name := file.Name
		if name == "" {
			name = "file"
		}
		out = append(out, map[string]any{
			"name":     name,
			"type":     "external",
			"external": map[string]string{"url": file.External.URL},
		})
	}
	return out
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
