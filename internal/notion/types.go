package notion

import (
	"encoding/json"
	"strings"
)

// Database is a schema object as returned by the API. Only the fields the
// migrator reads are modeled; everything else is dropped on decode.
type Database struct {
	ID         string                    `json:"id"`
	Object     string                    `json:"object,omitempty"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
	Icon       json.RawMessage           `json:"icon,omitempty"`
	Cover      json.RawMessage           `json:"cover,omitempty"`
}

// PlainTitle returns the first plain-text segment of the database title.
func (d *Database) PlainTitle() string {
	if d == nil || len(d.Title) == 0 {
		return ""
	}
	return d.Title[0].PlainText
}

// PropertySchema is one property definition inside a database schema. The type
// tag selects which config pointer is populated; simple types carry none.
type PropertySchema struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Type        string            `json:"type"`
	Number      *NumberConfig     `json:"number,omitempty"`
	Select      *OptionsConfig    `json:"select,omitempty"`
	MultiSelect *OptionsConfig    `json:"multi_select,omitempty"`
	Status      json.RawMessage   `json:"status,omitempty"`
	Formula     *FormulaConfig    `json:"formula,omitempty"`
	Relation    *RelationConfig   `json:"relation,omitempty"`
	Rollup      *RollupConfig     `json:"rollup,omitempty"`
}

type NumberConfig struct {
	Format string `json:"format,omitempty"`
}

type OptionsConfig struct {
	Options []SelectOption `json:"options"`
}

type SelectOption struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type FormulaConfig struct {
	Expression string `json:"expression"`
}

type RelationConfig struct {
	DatabaseID     string          `json:"database_id"`
	Type           string          `json:"type,omitempty"`
	SingleProperty json.RawMessage `json:"single_property,omitempty"`
	DualProperty   json.RawMessage `json:"dual_property,omitempty"`
}

type RollupConfig struct {
	RelationPropertyName string `json:"relation_property_name"`
	RollupPropertyName   string `json:"rollup_property_name"`
	Function             string `json:"function"`
}

// Page is a single record of a database.
type Page struct {
	ID         string                   `json:"id"`
	Properties map[string]PropertyValue `json:"properties"`
	Icon       json.RawMessage          `json:"icon,omitempty"`
	Cover      json.RawMessage          `json:"cover,omitempty"`
}

// PropertyValue is one property value on a page. Values with no
// cross-reference semantics are carried as raw JSON so round-trips stay exact.
type PropertyValue struct {
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type"`
	Title       []RichText      `json:"title,omitempty"`
	RichText    []RichText      `json:"rich_text,omitempty"`
	Number      json.RawMessage `json:"number,omitempty"`
	Select      *SelectValue    `json:"select,omitempty"`
	MultiSelect []SelectValue   `json:"multi_select,omitempty"`
	Date        json.RawMessage `json:"date,omitempty"`
	People      []UserRef       `json:"people,omitempty"`
	Files       []FileValue     `json:"files,omitempty"`
	Checkbox    *bool           `json:"checkbox,omitempty"`
	URL         *string         `json:"url,omitempty"`
	Email       *string         `json:"email,omitempty"`
	PhoneNumber *string         `json:"phone_number,omitempty"`
	Status      *SelectValue    `json:"status,omitempty"`
	Relation    []PageRef       `json:"relation,omitempty"`
}

type SelectValue struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type UserRef struct {
	ID string `json:"id"`
}

type PageRef struct {
	ID string `json:"id"`
}

type FileValue struct {
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type"`
	External *ExternalFile   `json:"external,omitempty"`
	File     json.RawMessage `json:"file,omitempty"`
}

type ExternalFile struct {
	URL string `json:"url"`
}

// RichText is one segment of a rich text array.
type RichText struct {
	Type        string          `json:"type"`
	Text        *TextContent    `json:"text,omitempty"`
	Equation    *Equation       `json:"equation,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
	PlainText   string          `json:"plain_text,omitempty"`
}

type TextContent struct {
	Content string          `json:"content"`
	Link    json.RawMessage `json:"link,omitempty"`
}

type Equation struct {
	Expression string `json:"expression"`
}

// Block is a child block; the migrator only cares about child databases.
type Block struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

const BlockTypeChildDatabase = "child_database"

// NormalizeID folds the two identifier spellings the API emits (dashed and
// undashed UUIDs) into one comparable form.
func NormalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(id, "-", ""))
}
