package sqlrag

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlasdata/atlasrag/catalog"
)

// IntentPatterns is the regex set driving heuristic intent detection. It is
// data, not code: deployments answering in other languages can extend it
// without touching the planner.
type IntentPatterns struct {
	List     *regexp.Regexp
	Extremum *regexp.Regexp
	Limit    *regexp.Regexp
	// Ascending flips extremum ordering ("smallest" style questions).
	Ascending *regexp.Regexp
}

// DefaultIntentPatterns covers Portuguese and English listing/extremum
// phrasings.
func DefaultIntentPatterns() IntentPatterns {
	return IntentPatterns{
		List:      regexp.MustCompile(`\b(listar|liste|mostrar|mostre|citar|cite|exemplos?|registros?)\b`),
		Extremum:  regexp.MustCompile(`\b(maior|menor|top|últim[oa]|ultimo|primeiro|mais caro|mais barata|mais alto|mais baixo)\b`),
		Limit:     regexp.MustCompile(`(?:cite|listar|liste|mostre|mostrar)\s+(\d+)`),
		Ascending: regexp.MustCompile(`\bmenor\b`),
	}
}

// Column preference orders, applied against the candidate table.
var (
	preferredColumns = []string{"id", "name", "symbol", "ticker", "price", "value", "created_at"}
	orderingColumns  = []string{"id", "created_at", "updated_at", "timestamp", "date", "data"}
	numericColumns   = []string{"value", "valor", "price", "preco", "amount", "total", "cost", "volume", "market_cap", "marketcap"}
)

var punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// FallbackPlanner produces a deterministic planner decision when the LLM
// output is unusable but the question clearly asks for a listing or an
// extremum.
type FallbackPlanner struct {
	patterns IntentPatterns
}

// NewFallbackPlanner creates a fallback planner with the default patterns.
func NewFallbackPlanner() *FallbackPlanner {
	return &FallbackPlanner{patterns: DefaultIntentPatterns()}
}

// NewFallbackPlannerWithPatterns creates a fallback planner with a custom
// pattern set.
func NewFallbackPlannerWithPatterns(patterns IntentPatterns) *FallbackPlanner {
	return &FallbackPlanner{patterns: patterns}
}

func normalizeQuestion(question string) string {
	q := strings.ToLower(question)
	q = punctuationPattern.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(q), " ")
}

// HasIntent reports whether the question matches a listing or extremum
// intent; only such questions are eligible for the fallback path.
func (f *FallbackPlanner) HasIntent(question string) bool {
	q := normalizeQuestion(question)
	return f.patterns.List.MatchString(q) || f.patterns.Extremum.MatchString(q)
}

type tableCandidate struct {
	connectionID int64
	schema       string
	name         string
	columns      []string
}

func (c tableCandidate) qualified() string {
	if c.schema == "" {
		return c.name
	}
	return c.schema + "." + c.name
}

// Plan derives a deterministic decision from the question and snapshot.
// Without a matching intent it returns no_sql_needed; with an ambiguous
// table it returns need_clarification naming the candidates.
func (f *FallbackPlanner) Plan(question string, snapshot *catalog.Snapshot, connectionIDs []int64, maxRows int) *PlannerDecision {
	q := normalizeQuestion(question)
	listIntent := f.patterns.List.MatchString(q)
	extremumIntent := f.patterns.Extremum.MatchString(q)

	if !listIntent && !extremumIntent {
		return &PlannerDecision{Kind: DecisionNoSQLNeeded, Reason: "no listing or extremum intent detected"}
	}

	candidate, clarification := f.selectTable(q, snapshot)
	if candidate == nil {
		return &PlannerDecision{
			Kind:               DecisionNeedClarification,
			ClarifyingQuestion: clarification,
		}
	}

	limit := 5
	if m := f.patterns.Limit.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			limit = n
		}
	}
	if limit > maxRows {
		limit = maxRows
	}

	columns := selectColumns(candidate.columns)
	orderCol := firstPresent(orderingColumns, candidate.columns)

	var sql string
	var name string
	if extremumIntent {
		numericCol := firstPresent(numericColumns, candidate.columns)
		if numericCol == "" {
			numericCol = orderCol
		}
		direction := "DESC"
		if f.patterns.Ascending.MatchString(q) {
			direction = "ASC"
		}
		sql = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s %s LIMIT 1", columns, candidate.qualified(), numericCol, direction)
		name = "fallback_extremum"
	} else {
		if orderCol != "" {
			sql = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC LIMIT %d", columns, candidate.qualified(), orderCol, limit)
		} else {
			sql = fmt.Sprintf("SELECT %s FROM %s LIMIT %d", columns, candidate.qualified(), limit)
		}
		name = "fallback_list"
	}

	connID := candidate.connectionID
	return &PlannerDecision{
		Kind:   DecisionRunSelects,
		Reason: "heuristic plan derived from question intent",
		Queries: []PlannerQuery{{
			Name:         name,
			Purpose:      "deterministic fallback for a listing or extremum question",
			SQL:          sql,
			ConnectionID: &connID,
		}},
	}
}

// selectTable picks the single table the question refers to, or returns a
// clarifying question naming the candidates.
func (f *FallbackPlanner) selectTable(q string, snapshot *catalog.Snapshot) (*tableCandidate, string) {
	var all []tableCandidate
	for _, conn := range snapshot.Connections {
		for _, t := range conn.Tables {
			cols := make([]string, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = strings.ToLower(c.Name)
			}
			all = append(all, tableCandidate{
				connectionID: conn.ConnectionID,
				schema:       t.Schema,
				name:         t.Name,
				columns:      cols,
			})
		}
	}
	if len(all) == 0 {
		return nil, "I could not find any table in the catalog. Which table did you mean?"
	}

	var wordMatches, substrMatches []tableCandidate
	for _, c := range all {
		nameLower := strings.ToLower(c.name)
		wordPattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(nameLower) + `\b`)
		if wordPattern.MatchString(q) {
			wordMatches = append(wordMatches, c)
		} else if strings.Contains(q, nameLower) {
			substrMatches = append(substrMatches, c)
		}
	}

	matches := wordMatches
	if len(matches) == 0 {
		matches = substrMatches
	}

	switch {
	case len(matches) == 1:
		return &matches[0], ""
	case len(matches) == 0 && len(all) == 1:
		return &all[0], ""
	}

	pool := matches
	if len(pool) == 0 {
		pool = all
	}
	names := make([]string, len(pool))
	for i, c := range pool {
		names[i] = c.qualified()
	}
	return nil, fmt.Sprintf("Which table should I use? Candidates: %s", strings.Join(names, ", "))
}

// selectColumns picks up to four projection columns, preferring the usual
// identity/price columns.
func selectColumns(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}

	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}

	var picked []string
	for _, c := range preferredColumns {
		if _, ok := present[c]; ok {
			picked = append(picked, c)
			if len(picked) == 4 {
				break
			}
		}
	}
	if len(picked) == 0 {
		picked = columns
		if len(picked) > 4 {
			picked = picked[:4]
		}
	}
	return strings.Join(picked, ", ")
}

func firstPresent(preferred, columns []string) string {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for _, c := range preferred {
		if _, ok := present[c]; ok {
			return c
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}
