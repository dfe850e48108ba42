package sqlrag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/atlasdata/atlasrag/catalog"
)

// ValidationError carries the fixed, user-readable rejection reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Fixed rejection reasons. These travel back to the planner as error
// context, so the wording stays stable.
const (
	reasonMultipleStatements = "Multiple statements not permitted."
	reasonNotSelect          = "Only SELECT/CTE are permitted."
	reasonForbiddenKeyword   = "Write or DDL commands are not permitted."
	reasonSelectInto         = "SELECT INTO is not permitted."
	reasonForUpdate          = "SELECT with FOR UPDATE/SHARE is not permitted."
	reasonForbiddenFunction  = "Dangerous functions are not permitted."
)

// Pattern-based analysis by design: false rejections are acceptable, false
// acceptances are not.
var (
	forbiddenKeywordsPattern  = regexp.MustCompile(`(?i)\b(insert|update|delete|upsert|merge|drop|alter|create|grant|revoke|truncate|copy|execute|call)\b`)
	forbiddenFunctionsPattern = regexp.MustCompile(`(?i)\b(pg_read_file|pg_ls_dir|pg_sleep|dblink|lo_export|lo_import)\b`)
	selectIntoPattern         = regexp.MustCompile(`(?is)\bselect\b.*?\binto\b`)
	forUpdatePattern          = regexp.MustCompile(`(?i)\bfor\s+(update|share)\b`)
	fromJoinPattern           = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z0-9_".]+)`)
	cteHeadPattern            = regexp.MustCompile(`(?i)\bwith\s+("?[a-zA-Z0-9_]+"?)\s+as\s*\(`)
	cteChainPattern           = regexp.MustCompile(`(?i)\)\s*,\s*("?[a-zA-Z0-9_]+"?)\s+as\s*\(`)
	limitPattern              = regexp.MustCompile(`(?i)\blimit\s+(\d+|all|\$\d+|:\w+|\?)`)
)

// ValidateSelect checks a candidate statement against the safety rules and
// returns the rewritten SQL with a normalised row limit. Rules apply in
// order; the first violation is returned as a *ValidationError.
func ValidateSelect(sqlText string, allowlist catalog.Allowlist, maxRows int) (string, error) {
	stmt := strings.TrimSpace(sqlText)
	stmt = strings.TrimSuffix(stmt, ";")
	stmt = strings.TrimSpace(stmt)

	if strings.Contains(stmt, ";") {
		return "", &ValidationError{Reason: reasonMultipleStatements}
	}

	lower := strings.ToLower(stmt)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", &ValidationError{Reason: reasonNotSelect}
	}

	if forbiddenKeywordsPattern.MatchString(stmt) {
		return "", &ValidationError{Reason: reasonForbiddenKeyword}
	}
	if selectIntoPattern.MatchString(stmt) {
		return "", &ValidationError{Reason: reasonSelectInto}
	}
	if forUpdatePattern.MatchString(stmt) {
		return "", &ValidationError{Reason: reasonForUpdate}
	}
	if forbiddenFunctionsPattern.MatchString(stmt) {
		return "", &ValidationError{Reason: reasonForbiddenFunction}
	}

	if err := checkAllowlist(stmt, lower, allowlist); err != nil {
		return "", err
	}

	return normalizeLimit(stmt, maxRows), nil
}

// checkAllowlist extracts table references from FROM/JOIN tokens, subtracts
// declared CTE names and requires the remainder to be allowlisted. A
// statement starting with WITH gets leniency for unqualified names, which
// may be inner CTE references the lightweight scanner missed.
func checkAllowlist(stmt, lower string, allowlist catalog.Allowlist) error {
	ctes := make(map[string]struct{})
	for _, m := range cteHeadPattern.FindAllStringSubmatch(stmt, -1) {
		ctes[catalog.NormalizeIdentifier(m[1])] = struct{}{}
	}
	for _, m := range cteChainPattern.FindAllStringSubmatch(stmt, -1) {
		ctes[catalog.NormalizeIdentifier(m[1])] = struct{}{}
	}

	isCTE := strings.HasPrefix(lower, "with")
	missing := make(map[string]struct{})

	for _, m := range fromJoinPattern.FindAllStringSubmatch(stmt, -1) {
		token := strings.TrimRight(m[1], ",.")
		name := catalog.NormalizeIdentifier(token)
		if name == "" {
			continue
		}
		if _, ok := ctes[name]; ok {
			continue
		}
		if allowlist.Has(name) {
			continue
		}
		if isCTE && !strings.Contains(name, ".") {
			continue
		}
		missing[name] = struct{}{}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return &ValidationError{
			Reason: fmt.Sprintf("Tables outside the permitted catalog: %v", names),
		}
	}
	return nil
}

// normalizeLimit keeps an existing numeric LIMIT when it is within the cap
// and otherwise replaces or appends LIMIT cap. LIMIT ALL and bind
// parameters are treated as uncapped and rewritten.
func normalizeLimit(stmt string, maxRows int) string {
	if m := limitPattern.FindStringSubmatch(stmt); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= maxRows {
			return stmt
		}
		return limitPattern.ReplaceAllString(stmt, fmt.Sprintf("LIMIT %d", maxRows))
	}
	return fmt.Sprintf("%s LIMIT %d", stmt, maxRows)
}
