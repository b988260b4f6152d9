// Package rdbfilter implements the allow/deny/predicate filter applied
// between extraction and routing (spec.md §4.4).
package rdbfilter

import (
	"path"
	"strings"
)

// Filter answers FilterTb and GetWhereCondition. It is deterministic on
// (schema, tb): deny dominates allow, and repeated calls with the same
// input always agree (the filter-idempotence property in spec.md §8).
type Filter struct {
	doDbs     []string
	doTbs     map[string]bool // "schema.tb" -> true
	ignoreDbs []string
	ignoreTbs map[string]bool

	whereConditions map[string]string // "schema.tb" -> predicate
}

func New(doDbs, doTbs, ignoreDbs, ignoreTbs []string, whereConditions map[string]string) *Filter {
	f := &Filter{
		doDbs:           doDbs,
		ignoreDbs:       ignoreDbs,
		doTbs:           map[string]bool{},
		ignoreTbs:       map[string]bool{},
		whereConditions: whereConditions,
	}
	for _, tb := range doTbs {
		f.doTbs[tb] = true
	}
	for _, tb := range ignoreTbs {
		f.ignoreTbs[tb] = true
	}
	return f
}

func fullTb(schema, tb string) string { return schema + "." + tb }

func matchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, s); err == nil && ok {
			return true
		}
		if p == s {
			return true
		}
	}
	return false
}

// FilterTb reports whether the given (schema, tb) should be dropped. Deny
// dominates allow: an ignore match always wins regardless of any allow
// configuration.
func (f *Filter) FilterTb(schema, tb string) bool {
	full := fullTb(schema, tb)

	if matchAny(f.ignoreDbs, schema) || f.matchesTbSet(f.ignoreTbs, full) {
		return true
	}

	if len(f.doDbs) == 0 && len(f.doTbs) == 0 {
		return false
	}
	if matchAny(f.doDbs, schema) || f.matchesTbSet(f.doTbs, full) {
		return false
	}
	return true
}

func (f *Filter) matchesTbSet(set map[string]bool, full string) bool {
	if set[full] {
		return true
	}
	for pattern := range set {
		if matchAny([]string{pattern}, full) {
			return true
		}
	}
	return false
}

// GetWhereCondition returns the configured predicate for (schema, tb), if
// any, without the leading "WHERE".
func (f *Filter) GetWhereCondition(schema, tb string) (string, bool) {
	cond, ok := f.whereConditions[fullTb(schema, tb)]
	return cond, ok
}

// GetWhereSQL composes the configured predicate with an extra ad-hoc
// condition (e.g. a slice-window bound), matching base_extractor.rs's
// get_where_sql.
func (f *Filter) GetWhereSQL(schema, tb, condition string) string {
	cond, has := f.GetWhereCondition(schema, tb)
	var base string
	if has && strings.TrimSpace(cond) != "" {
		base = "WHERE " + cond
	}
	if condition == "" {
		return base
	}
	if base == "" {
		return "WHERE " + condition
	}
	return base + " AND " + condition
}
