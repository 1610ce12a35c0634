package reaction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

// templateToken matches "${scope.field}" where scope is one of
// row/before/after/op/queryId/sequence (spec 4.7: "a small
// string-interpolation language over row columns").
var templateToken = regexp.MustCompile(`\$\{(\w+)(?:\.([\w]+))?\}`)

// Template renders a ResultDelta to a byte payload by substituting
// "${row.column}"/"${before.column}"/"${after.column}"/"${op}"/
// "${queryId}"/"${sequence}" tokens in text. An empty Template string
// means "no template configured"; callers fall back to a default
// key=value rendering (see defaultPayload).
type Template string

func (t Template) render(d model.ResultDelta) ([]byte, error) {
	if t == "" {
		return nil, nil
	}
	var firstErr error
	out := templateToken.ReplaceAllStringFunc(string(t), func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := templateToken.FindStringSubmatch(match)
		scope, field := groups[1], groups[2]
		value, err := lookupField(d, scope, field)
		if err != nil {
			firstErr = err
			return match
		}
		return fmt.Sprint(value)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return []byte(out), nil
}

func lookupField(d model.ResultDelta, scope, field string) (any, error) {
	switch scope {
	case "queryId":
		return d.QueryID, nil
	case "sequence":
		return d.Sequence, nil
	case "op":
		return opName(d.Op), nil
	case "row":
		return rowField(d.Row, field)
	case "before":
		return rowField(d.Before, field)
	case "after":
		return rowField(d.After, field)
	default:
		return nil, fmt.Errorf("reaction: template: unknown scope %q", scope)
	}
}

func rowField(row model.Row, field string) (any, error) {
	if field == "" {
		return row, nil
	}
	v, ok := row[field]
	if !ok {
		return nil, fmt.Errorf("reaction: template: unknown row column %q", field)
	}
	return v, nil
}

func opName(op model.DeltaOp) string {
	switch op {
	case model.DeltaAdded:
		return "added"
	case model.DeltaUpdated:
		return "updated"
	case model.DeltaDeleted:
		return "deleted"
	case model.DeltaAggregation:
		return "aggregation"
	default:
		return "unknown"
	}
}

// defaultPayload renders a delta with no configured template as a
// compact key=value line, avoiding a hard dependency on an encoding
// package choice for plugins that don't care about format.
func defaultPayload(d model.ResultDelta) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "queryId=%s sequence=%d op=%s", d.QueryID, d.Sequence, opName(d.Op))
	return []byte(b.String())
}
