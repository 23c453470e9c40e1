package view

import (
	"encoding/json"

	"github.com/tycostream/tycostream/pkg/schema"
	"github.com/tycostream/tycostream/pkg/source"
)

// Filter pairs the predicate that admits a row into the view with the one
// that ejects it. When Unmatch is nil, rows leave the view as soon as Match
// stops holding; with an explicit Unmatch, a row whose Match has lapsed
// stays in view until Unmatch holds. The gap between the two is the
// hysteresis band.
type Filter struct {
	Match   Predicate
	Unmatch Predicate

	// fields is the union of both predicates' dependent columns. An update
	// whose changed set is disjoint from it cannot move a row across the
	// view boundary.
	fields map[string]bool
}

// NewFilter builds a filter from parsed predicates. match is required.
func NewFilter(match, unmatch Predicate) *Filter {
	f := &Filter{Match: match, Unmatch: unmatch, fields: make(map[string]bool)}
	for _, c := range match.Fields() {
		f.fields[c] = true
	}
	if unmatch != nil {
		for _, c := range unmatch.Fields() {
			f.fields[c] = true
		}
	}
	return f
}

// ParseFilter parses the match filter object and the optional unmatch
// object against one source's schema.
func ParseFilter(src *schema.Source, match json.RawMessage, unmatch json.RawMessage) (*Filter, error) {
	m, err := ParsePredicate(src, match)
	if err != nil {
		return nil, err
	}
	var u Predicate
	if len(unmatch) > 0 {
		u, err = ParsePredicate(src, unmatch)
		if err != nil {
			return nil, err
		}
	}
	return NewFilter(m, u), nil
}

// touches reports whether any changed column can affect either predicate.
// A nil or empty changed set means the full row must be considered.
func (f *Filter) touches(changed []string) bool {
	if len(changed) == 0 {
		return true
	}
	for _, c := range changed {
		if f.fields[c] {
			return true
		}
	}
	return false
}

// exits reports whether a row whose Match no longer holds should leave the
// view. With no explicit Unmatch, lapsed match is the exit condition.
func (f *Filter) exits(row source.Row) bool {
	if f.Unmatch == nil {
		return true
	}
	return f.Unmatch.Evaluate(row)
}
