package simple

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
)

// unsupportedClause matches the clauses the core must reject at query
// creation time (spec 4.6): ORDER BY, LIMIT, TOP.
var unsupportedClause = regexp.MustCompile(`(?i)\b(ORDER\s+BY|LIMIT|TOP)\b`)

// matchPattern recognises a single-variable, single-label MATCH/RETURN
// query: "MATCH (v:Label) RETURN v.prop AS alias [, v.prop2 AS alias2 ...]".
// This reference engine exists to exercise the pipeline, not to implement
// a query language (spec 1: query evaluation is an external collaborator)
// — it deliberately supports only the one pattern shape the spec's own
// worked scenarios use.
var matchPattern = regexp.MustCompile(`(?is)^\s*MATCH\s*\(\s*(\w+)\s*:\s*(\w+)\s*\)\s*RETURN\s+(.+)$`)

var projectionPattern = regexp.MustCompile(`(?i)^\s*(\w+)\.(\w+)\s+AS\s+(\w+)\s*$`)

// parsedQuery is the result of parsing one query text.
type parsedQuery struct {
	variable    string
	label       string
	projections []projection
}

type projection struct {
	property string
	alias    string
}

// parseQuery validates and parses queryText, rejecting unsupported
// clauses and any shape outside the single-label MATCH/RETURN form.
func parseQuery(queryText string) (parsedQuery, error) {
	if loc := unsupportedClause.FindStringSubmatch(queryText); loc != nil {
		return parsedQuery{}, coreerr.NewConfigError("query", fmt.Sprintf("unsupported clause: %s", strings.ToUpper(loc[1])))
	}

	groups := matchPattern.FindStringSubmatch(queryText)
	if groups == nil {
		return parsedQuery{}, coreerr.NewConfigError("query", "unsupported query shape: expected MATCH (v:Label) RETURN v.prop AS alias[, ...]")
	}

	variable, label, projectionList := groups[1], groups[2], groups[3]

	var projections []projection
	for _, part := range strings.Split(projectionList, ",") {
		pg := projectionPattern.FindStringSubmatch(part)
		if pg == nil {
			return parsedQuery{}, coreerr.NewConfigError("query", fmt.Sprintf("unsupported projection: %q", strings.TrimSpace(part)))
		}
		if pg[1] != variable {
			return parsedQuery{}, coreerr.NewConfigError("query", fmt.Sprintf("unknown variable in projection: %q", pg[1]))
		}
		projections = append(projections, projection{property: pg[2], alias: pg[3]})
	}

	return parsedQuery{variable: variable, label: label, projections: projections}, nil
}
