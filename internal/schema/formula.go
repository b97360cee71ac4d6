package schema

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ndm-tool/ndm/internal/notion"
)

// Formula expressions returned by the API embed property references as opaque
// tokens of the shape
//
//	{{notion:block_property:<property-id>:<database-id>:<page-id>}}
//
// where an all-zero database id means "a property on this same database" and a
// concrete id means a property reached through a relation. The rewriter turns
// each resolvable token into a portable prop("Name") call; unresolvable tokens
// are left untouched so the expression stays valid text.

const sameDatabaseSentinel = "00000000-0000-0000-0000-000000000000"

var formulaTokenRE = regexp.MustCompile(`\{\{\s*notion\s*:\s*block_property\s*:\s*([^:{}\s]+)\s*:\s*([0-9a-fA-F-]+)\s*:\s*([^:{}]*?)\s*\}\}`)

// PropertyIndex maps internal property ids to property names for one database.
type PropertyIndex map[string]string

// IndexProperties builds a PropertyIndex from a database schema. Property ids
// are stored both raw and URL-decoded since the API percent-encodes some ids.
func IndexProperties(db *notion.Database) PropertyIndex {
	idx := make(PropertyIndex, len(db.Properties))
	for name, prop := range db.Properties {
		if prop.ID == "" {
			continue
		}
		idx[prop.ID] = name
	}
	return idx
}

// Rewriter resolves formula reference tokens against the owning database and,
// when available, every other in-scope database.
type Rewriter struct {
	Own        PropertyIndex
	ByDatabase map[string]PropertyIndex // keyed by notion.NormalizeID(database id)
}

// Rewrite replaces every resolvable token in expr with a quoted name-based
// reference. Best effort: tokens that cannot be resolved pass through
// byte-for-byte.
func (r *Rewriter) Rewrite(expr string) string {
	if r == nil || expr == "" {
		return expr
	}
	return formulaTokenRE.ReplaceAllStringFunc(expr, func(token string) string {
		m := formulaTokenRE.FindStringSubmatch(token)
		if m == nil {
			return token
		}
		propID, databaseID := m[1], m[2]

		idx := r.Own
		if !isSameDatabase(databaseID) {
			idx = r.ByDatabase[notion.NormalizeID(databaseID)]
		}
		name, ok := lookupProperty(idx, propID)
		if !ok {
			return token
		}
		return fmt.Sprintf("prop(%q)", name)
	})
}

func isSameDatabase(id string) bool {
	return id == sameDatabaseSentinel || strings.Trim(notion.NormalizeID(id), "0") == ""
}

func lookupProperty(idx PropertyIndex, propID string) (string, bool) {
	if idx == nil {
		return "", false
	}
	if name, ok := idx[propID]; ok {
		return name, true
	}
	if decoded, err := url.QueryUnescape(propID); err == nil && decoded != propID {
		if name, ok := idx[decoded]; ok {
			return name, true
		}
	}
	return "", false
}
