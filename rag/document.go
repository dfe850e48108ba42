// Package rag implements the vector retrieval pipeline: canonical document
// construction, content-hash deduplicated reindexing, and cosine-distance
// search with scope filtering over a pgvector store.
package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/atlasdata/atlasrag/catalog"
)

// Embedding item types.
const (
	ItemTypeTable    = "table"
	ItemTypeColumn   = "column"
	ItemTypeAPIRoute = "api_route"
)

// Document is one embeddable catalog entity. Hash is the SHA-256 of the
// canonical content; unchanged hashes are skipped on reindex.
type Document struct {
	ItemType string
	ItemID   int64
	Content  string
	Hash     string
	Meta     map[string]any
}

// Key identifies a document in the embedding store.
func (d Document) Key() string {
	return fmt.Sprintf("%s:%d", d.ItemType, d.ItemID)
}

type field struct {
	key   string
	value any
}

// canonicalContent renders fields as "key: value" lines in declaration
// order. The rendering is the hashing contract: reordering fields would
// reindex the whole catalog.
func canonicalContent(fields []field) string {
	var b strings.Builder
	for _, f := range fields {
		switch v := f.value.(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", f.key, v)
		case []string:
			if len(v) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", f.key, strings.Join(v, ", "))
		default:
			fmt.Fprintf(&b, "%s: %v\n", f.key, v)
		}
	}
	return b.String()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// TableDocument builds the canonical document for a catalog table.
func TableDocument(t catalog.TableEntity) Document {
	columns := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if c.DataType != "" {
			columns[i] = c.Name + " " + c.DataType
		} else {
			columns[i] = c.Name
		}
	}

	content := canonicalContent([]field{
		{"type", "table"},
		{"schema", t.Schema},
		{"name", t.Name},
		{"table_type", t.TableType},
		{"description", t.Description},
		{"columns", columns},
		{"suggested_selects", SuggestedSelects(t)},
	})

	return Document{
		ItemType: ItemTypeTable,
		ItemID:   t.ID,
		Content:  content,
		Hash:     contentHash(content),
		Meta: map[string]any{
			"connection_id": t.ConnectionID,
			"scan_id":       t.ScanID,
			"schema":        t.Schema,
			"table":         t.Name,
		},
	}
}

// ColumnDocument builds the canonical document for a catalog column.
func ColumnDocument(c catalog.ColumnEntity) Document {
	content := canonicalContent([]field{
		{"type", "column"},
		{"table", c.Table},
		{"name", c.Name},
		{"data_type", c.DataType},
		{"description", c.Description},
	})

	return Document{
		ItemType: ItemTypeColumn,
		ItemID:   c.ID,
		Content:  content,
		Hash:     contentHash(content),
		Meta: map[string]any{
			"connection_id": c.ConnectionID,
			"scan_id":       c.ScanID,
			"table":         c.Table,
			"column":        c.Name,
		},
	}
}

// RouteDocument builds the canonical document for a harvested API route.
func RouteDocument(r catalog.ApiRoute) Document {
	content := canonicalContent([]field{
		{"type", "api_route"},
		{"name", r.Name},
		{"method", r.Method},
		{"path", r.Path},
		{"description", r.Description},
		{"tags", r.Tags},
	})

	return Document{
		ItemType: ItemTypeAPIRoute,
		ItemID:   r.ID,
		Content:  content,
		Hash:     contentHash(content),
		Meta: map[string]any{
			"route":  r.Name,
			"method": r.Method,
			"path":   r.Path,
		},
	}
}
