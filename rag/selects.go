package rag

import (
	"fmt"
	"strings"

	"github.com/atlasdata/atlasrag/catalog"
)

var numericHints = []string{"value", "valor", "price", "preco", "amount", "total", "cost", "volume", "market_cap", "marketcap"}

var temporalHints = []string{"created_at", "updated_at", "timestamp", "date", "data"}

// SuggestedSelects derives ready-to-run example queries for a table. They
// are indexed with the table document so a retrieval hit hands the planner
// a working starting point.
func SuggestedSelects(t catalog.TableEntity) []string {
	if len(t.Columns) == 0 {
		return nil
	}

	names := make([]string, len(t.Columns))
	lower := make(map[string]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
		lower[strings.ToLower(c.Name)] = c.Name
	}

	projection := names
	if len(projection) > 4 {
		projection = projection[:4]
	}
	cols := strings.Join(projection, ", ")
	qualified := t.Schema + "." + t.Name

	selects := []string{
		fmt.Sprintf("SELECT %s FROM %s LIMIT 5", cols, qualified),
	}

	if col := firstHint(temporalHints, lower); col != "" {
		selects = append(selects,
			fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 5", cols, qualified, col))
	}
	if col := firstHint(numericHints, lower); col != "" {
		selects = append(selects,
			fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT 1", cols, qualified, col))
	}

	return selects
}

func firstHint(hints []string, columns map[string]string) string {
	for _, h := range hints {
		if name, ok := columns[h]; ok {
			return name
		}
	}
	return ""
}
