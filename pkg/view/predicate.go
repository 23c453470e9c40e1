// Package view implements the per-subscriber pipeline: a row-local filter
// with asymmetric match/unmatch semantics, the membership tracker that gives
// the filter hysteresis, and the delta projection. The same tracker drives
// both subscription views and triggers.
package view

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

// Predicate is a pure row-local boolean expression. Fields reports the
// columns the predicate reads, which lets the pipeline skip evaluation when
// an update touches none of them.
type Predicate interface {
	Evaluate(row source.Row) bool
	Fields() []string
}

// Comparison operators accepted in filter JSON.
const (
	opEq     = "_eq"
	opNeq    = "_neq"
	opLt     = "_lt"
	opLte    = "_lte"
	opGt     = "_gt"
	opGte    = "_gte"
	opIn     = "_in"
	opIsNull = "_is_null"
)

// Boolean connectives accepted in filter JSON.
const (
	keyAnd = "_and"
	keyOr  = "_or"
	keyNot = "_not"
)

type andPredicate struct {
	children []Predicate
	fields   []string
}

func (p *andPredicate) Evaluate(row source.Row) bool {
	for _, c := range p.children {
		if !c.Evaluate(row) {
			return false
		}
	}
	return true
}

func (p *andPredicate) Fields() []string { return p.fields }

type orPredicate struct {
	children []Predicate
	fields   []string
}

func (p *orPredicate) Evaluate(row source.Row) bool {
	for _, c := range p.children {
		if c.Evaluate(row) {
			return true
		}
	}
	return false
}

func (p *orPredicate) Fields() []string { return p.fields }

type notPredicate struct {
	child Predicate
}

func (p *notPredicate) Evaluate(row source.Row) bool { return !p.child.Evaluate(row) }

func (p *notPredicate) Fields() []string { return p.child.Fields() }

// comparePredicate is one leaf comparison against a literal coerced to the
// column's declared type at parse time. Comparisons against SQL null are
// false for every operator except _is_null, matching SQL's three-valued
// logic collapsed to boolean.
type comparePredicate struct {
	column string
	op     string

	literal  schema.Value
	literals []schema.Value // populated for _in
	wantNull bool           // populated for _is_null
}

func (p *comparePredicate) Fields() []string { return []string{p.column} }

func (p *comparePredicate) Evaluate(row source.Row) bool {
	v, ok := row[p.column]
	if !ok {
		v = schema.Null()
	}

	if p.op == opIsNull {
		return v.IsNull() == p.wantNull
	}
	if v.IsNull() {
		return false
	}

	switch p.op {
	case opEq:
		return v.Equal(p.literal)
	case opNeq:
		return !v.Equal(p.literal)
	case opIn:
		for _, lit := range p.literals {
			if v.Equal(lit) {
				return true
			}
		}
		return false
	}

	cmp, err := v.Compare(p.literal)
	if err != nil {
		return false
	}
	switch p.op {
	case opLt:
		return cmp < 0
	case opLte:
		return cmp <= 0
	case opGt:
		return cmp > 0
	case opGte:
		return cmp >= 0
	}
	return false
}

// ParseError reports where in the filter object parsing failed.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid filter: %s", e.Reason)
	}
	return fmt.Sprintf("invalid filter at %s: %s", e.Path, e.Reason)
}

func parseErrorf(path, format string, args ...any) error {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// ParsePredicate builds a predicate from a filter object in the operator
// style of the subscription API:
//
//	{"_and": [{"price": {"_gte": 100}}, {"symbol": {"_eq": "AAPL"}}]}
//
// Several keys in one object are an implicit _and. Column names and literal
// types are checked against the source descriptor; literals are coerced to
// the column's declared type here so evaluation never type-checks.
func ParsePredicate(src *schema.Source, raw json.RawMessage) (Predicate, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var obj map[string]json.RawMessage
	if err := dec.Decode(&obj); err != nil {
		return nil, parseErrorf("", "filter must be a JSON object: %v", err)
	}
	return parseObject(src, obj, "")
}

func parseObject(src *schema.Source, obj map[string]json.RawMessage, path string) (Predicate, error) {
	if len(obj) == 0 {
		return nil, parseErrorf(path, "empty filter object")
	}

	// Sorted keys keep error reporting deterministic.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	children := make([]Predicate, 0, len(keys))
	for _, key := range keys {
		raw := obj[key]
		kp := joinPath(path, key)
		switch key {
		case keyAnd, keyOr:
			var items []map[string]json.RawMessage
			if err := unmarshalNumber(raw, &items); err != nil {
				return nil, parseErrorf(kp, "%s takes an array of filter objects", key)
			}
			if len(items) == 0 {
				return nil, parseErrorf(kp, "%s requires at least one operand", key)
			}
			subs := make([]Predicate, 0, len(items))
			for i, item := range items {
				sub, err := parseObject(src, item, fmt.Sprintf("%s[%d]", kp, i))
				if err != nil {
					return nil, err
				}
				subs = append(subs, sub)
			}
			if key == keyAnd {
				children = append(children, &andPredicate{children: subs, fields: unionFields(subs)})
			} else {
				children = append(children, &orPredicate{children: subs, fields: unionFields(subs)})
			}

		case keyNot:
			var item map[string]json.RawMessage
			if err := unmarshalNumber(raw, &item); err != nil {
				return nil, parseErrorf(kp, "_not takes a filter object")
			}
			sub, err := parseObject(src, item, kp)
			if err != nil {
				return nil, err
			}
			children = append(children, &notPredicate{child: sub})

		default:
			preds, err := parseColumn(src, key, raw, kp)
			if err != nil {
				return nil, err
			}
			children = append(children, preds...)
		}
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return &andPredicate{children: children, fields: unionFields(children)}, nil
}

// parseColumn parses one column entry like {"price": {"_gte": 100, "_lt": 200}}.
// Several operators on one column are an implicit _and.
func parseColumn(src *schema.Source, column string, raw json.RawMessage, path string) ([]Predicate, error) {
	col, ok := src.Column(column)
	if !ok {
		return nil, parseErrorf(path, "source %s has no column %q", src.Name, column)
	}

	var ops map[string]json.RawMessage
	if err := unmarshalNumber(raw, &ops); err != nil {
		return nil, parseErrorf(path, "column condition must be an object of operators")
	}
	if len(ops) == 0 {
		return nil, parseErrorf(path, "column condition has no operators")
	}

	opNames := make([]string, 0, len(ops))
	for op := range ops {
		opNames = append(opNames, op)
	}
	sort.Strings(opNames)

	preds := make([]Predicate, 0, len(opNames))
	for _, op := range opNames {
		p, err := parseOperator(col, column, op, ops[op], joinPath(path, op))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func parseOperator(col schema.Column, column, op string, raw json.RawMessage, path string) (Predicate, error) {
	switch op {
	case opIsNull:
		var want bool
		if err := unmarshalNumber(raw, &want); err != nil {
			return nil, parseErrorf(path, "_is_null takes true or false")
		}
		return &comparePredicate{column: column, op: op, wantNull: want}, nil

	case opIn:
		var lits []any
		if err := unmarshalNumber(raw, &lits); err != nil {
			return nil, parseErrorf(path, "_in takes an array of literals")
		}
		if len(lits) == 0 {
			return nil, parseErrorf(path, "_in requires at least one literal")
		}
		vals := make([]schema.Value, 0, len(lits))
		for i, lit := range lits {
			v, err := schema.Coerce(col.Type, lit)
			if err != nil {
				return nil, parseErrorf(fmt.Sprintf("%s[%d]", path, i), "%v", err)
			}
			if v.IsNull() {
				return nil, parseErrorf(fmt.Sprintf("%s[%d]", path, i), "_in literals cannot be null; use _is_null")
			}
			vals = append(vals, v)
		}
		return &comparePredicate{column: column, op: op, literals: vals}, nil

	case opEq, opNeq, opLt, opLte, opGt, opGte:
		var lit any
		if err := unmarshalNumber(raw, &lit); err != nil {
			return nil, parseErrorf(path, "invalid literal")
		}
		v, err := schema.Coerce(col.Type, lit)
		if err != nil {
			return nil, parseErrorf(path, "%v", err)
		}
		if v.IsNull() {
			return nil, parseErrorf(path, "null literal not allowed with %s; use _is_null", op)
		}
		if op != opEq && op != opNeq {
			if _, cmpErr := v.Compare(v); cmpErr != nil {
				return nil, parseErrorf(path, "%s column does not support %s", col.Type, op)
			}
		}
		return &comparePredicate{column: column, op: op, literal: v}, nil
	}
	return nil, parseErrorf(path, "unknown operator %q", op)
}

func unmarshalNumber(raw json.RawMessage, target any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	return dec.Decode(target)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func unionFields(preds []Predicate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range preds {
		for _, f := range p.Fields() {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
