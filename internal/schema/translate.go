package schema

import (
	"fmt"
	"sort"

	"github.com/ndm-tool/ndm/internal/notion"
)

// Dependency classes for translated properties. Relations, rollups and
// formulas cannot be declared at schema-creation time: a relation's target, a
// rollup's relation property, or a formula's referenced rollup may not exist
// yet, so they are deferred and applied in that order after every schema has
// been created.
const (
	ClassNone     = ""
	ClassRelation = "relation"
	ClassRollup   = "rollup"
	ClassFormula  = "formula"
)

// MaxSelectOptions is the destination API's per-property option limit; options
// beyond it are truncated.
const MaxSelectOptions = 100

// Translated is a destination-creatable property definition.
type Translated struct {
	Type   string
	Config any
	Class  string
}

// Payload renders the property as an update/create payload fragment.
func (t Translated) Payload() map[string]any {
	return map[string]any{t.Type: t.Config}
}

// Destination-side config variants. One case per supported property kind;
// simple types share the empty config.
type (
	EmptyConfig struct{}

	NumberConfig struct {
		Format string `json:"format"`
	}

	OptionsConfig struct {
		Options []notion.SelectOption `json:"options"`
	}

	FormulaConfig struct {
		Expression string `json:"expression"`
	}

	// RelationConfig always declares a one-directional relation. Declaring
	// dual_property would make the destination auto-generate a paired reverse
	// property; an explicit reverse must be its own relation property.
	RelationConfig struct {
		DatabaseID     string   `json:"database_id"`
		SingleProperty struct{} `json:"single_property"`
	}

	RollupConfig struct {
		RelationPropertyName string `json:"relation_property_name"`
		RollupPropertyName   string `json:"rollup_property_name"`
		Function             string `json:"function"`
	}
)

// Translator converts source property definitions into destination-creatable
// ones. DatabaseMap holds the source→destination schema ids known so far;
// relation targets not yet in the map keep the source id as a placeholder and
// resolve on a later pass. Rewrite, when set, is applied to formula
// expressions before staging.
type Translator struct {
	DatabaseMap map[string]string
	Rewrite     func(expression string) string
}

// Property translates one property definition. It returns nil with a reason
// when the property cannot be represented at the destination.
func (tr *Translator) Property(prop notion.PropertySchema) (*Translated, string) {
	switch prop.Type {
	case "title", "rich_text", "date", "people", "files", "checkbox", "url", "email", "phone_number", "status":
		return &Translated{Type: prop.Type, Config: EmptyConfig{}, Class: ClassNone}, ""

	case "number":
		format := "number"
		if prop.Number != nil && prop.Number.Format != "" {
			format = prop.Number.Format
		}
		return &Translated{Type: prop.Type, Config: NumberConfig{Format: format}, Class: ClassNone}, ""

	case "select":
		return &Translated{Type: prop.Type, Config: OptionsConfig{Options: truncateOptions(prop.Select)}, Class: ClassNone}, ""

	case "multi_select":
		return &Translated{Type: prop.Type, Config: OptionsConfig{Options: truncateOptions(prop.MultiSelect)}, Class: ClassNone}, ""

	case "formula":
		if prop.Formula == nil || prop.Formula.Expression == "" {
			return nil, "formula has no expression"
		}
		expr := prop.Formula.Expression
		if tr.Rewrite != nil {
			expr = tr.Rewrite(expr)
		}
		return &Translated{Type: prop.Type, Config: FormulaConfig{Expression: expr}, Class: ClassFormula}, ""

	case "relation":
		if prop.Relation == nil || prop.Relation.DatabaseID == "" {
			return nil, "relation has no target database"
		}
		target := prop.Relation.DatabaseID
		if mapped, ok := tr.DatabaseMap[target]; ok {
			target = mapped
		}
		return &Translated{Type: prop.Type, Config: RelationConfig{DatabaseID: target}, Class: ClassRelation}, ""

	case "rollup":
		r := prop.Rollup
		if r == nil || r.RelationPropertyName == "" || r.RollupPropertyName == "" || r.Function == "" {
			return nil, "rollup is missing relation property, rollup property, or function"
		}
		return &Translated{Type: prop.Type, Config: RollupConfig(*r), Class: ClassRollup}, ""

	case "":
		return nil, "property has no type"
	}
	return nil, fmt.Sprintf("unsupported property type %q", prop.Type)
}

func truncateOptions(cfg *notion.OptionsConfig) []notion.SelectOption {
	if cfg == nil {
		return []notion.SelectOption{}
	}
	options := cfg.Options
	if len(options) > MaxSelectOptions {
		options = options[:MaxSelectOptions]
	}
	out := make([]notion.SelectOption, 0, len(options))
	for _, opt := range options {
		if opt.Name == "" {
			continue
		}
		color := opt.Color
		if color == "" {
			color = "default"
		}
		out = append(out, notion.SelectOption{Name: opt.Name, Color: color})
	}
	return out
}

// BuildProperties splits a schema's properties into the immediately creatable
// set and the deferred set, accumulating one warning per dropped property.
// Every destination schema must end up with exactly one title property; when
// the source contributes none, a synthetic Name title is injected.
func (tr *Translator) BuildProperties(source map[string]notion.PropertySchema) (immediate, deferred map[string]Translated, warnings []string) {
	immediate = map[string]Translated{}
	deferred = map[string]Translated{}

	for _, name := range sortedKeys(source) {
		translated, reason := tr.Property(source[name])
		if translated == nil {
			warnings = append(warnings, fmt.Sprintf("skipped property %q: %s", name, reason))
			continue
		}
		if translated.Class != ClassNone {
			deferred[name] = *translated
		} else {
			immediate[name] = *translated
		}
	}

	if !hasTitle(immediate) && !hasTitle(deferred) {
		immediate["Name"] = Translated{Type: "title", Config: EmptyConfig{}}
		warnings = append(warnings, "source schema had no title property; added fallback \"Name\"")
	}
	return immediate, deferred, warnings
}

func hasTitle(props map[string]Translated) bool {
	for _, p := range props {
		if p.Type == "title" {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PayloadMap renders a translated property set as an API payload.
func PayloadMap(props map[string]Translated) map[string]any {
	out := make(map[string]any, len(props))
	for name, prop := range props {
		out[name] = prop.Payload()
	}
	return out
}
