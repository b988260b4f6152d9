// Package router rewrites (schema, tb) and, optionally, column names
// before an item is pushed onto the queue (spec.md §4.4).
package router

import "github.com/replimux/replimux/internal/meta"

// Router holds the schema/table rename map and an optional per-table
// column rename map. Applying an already-routed row again is a no-op
// (router idempotence, spec.md §8): once (schema, tb) has been rewritten
// to a name absent from the maps, a second pass leaves it unchanged.
type Router struct {
	schemaMap map[string]string
	tbMap     map[string]string // "schema.tb" -> "schema2.tb2"
	colMap    map[string]map[string]string // "schema.tb" -> old col -> new col
}

func New(schemaMap, tbMap map[string]string, colMap map[string]map[string]string) *Router {
	if schemaMap == nil {
		schemaMap = map[string]string{}
	}
	if tbMap == nil {
		tbMap = map[string]string{}
	}
	if colMap == nil {
		colMap = map[string]map[string]string{}
	}
	return &Router{schemaMap: schemaMap, tbMap: tbMap, colMap: colMap}
}

func (r *Router) route(schema, tb string) (string, string) {
	full := schema + "." + tb
	if dst, ok := r.tbMap[full]; ok {
		for i := len(dst) - 1; i >= 0; i-- {
			if dst[i] == '.' {
				return dst[:i], dst[i+1:]
			}
		}
	}
	if dst, ok := r.schemaMap[schema]; ok {
		schema = dst
	}
	return schema, tb
}

func (r *Router) routeColumns(origSchema, origTb string, cols map[string]meta.ColValue) map[string]meta.ColValue {
	renames, ok := r.colMap[origSchema+"."+origTb]
	if !ok || cols == nil {
		return cols
	}
	out := make(map[string]meta.ColValue, len(cols))
	for k, v := range cols {
		if newName, renamed := renames[k]; renamed {
			out[newName] = v
		} else {
			out[k] = v
		}
	}
	return out
}

// RouteRow rewrites a RowData's schema/table and column names.
func (r *Router) RouteRow(row meta.RowData) meta.RowData {
	origSchema, origTb := row.Schema, row.Tb
	row.Schema, row.Tb = r.route(origSchema, origTb)
	row.Before = r.routeColumns(origSchema, origTb, row.Before)
	row.After = r.routeColumns(origSchema, origTb, row.After)
	return row
}

// RouteDdl rewrites a DdlData's schema/table.
func (r *Router) RouteDdl(ddl meta.DdlData) meta.DdlData {
	schema, tb := ddl.SchemaTb()
	schema, tb = r.route(schema, tb)
	ddl.Schema = schema
	ddl.Tb = tb
	return ddl
}

// RouteStruct rewrites a StructData's schema/table.
func (r *Router) RouteStruct(s meta.StructData) meta.StructData {
	s.Schema, s.Tb = r.route(s.Schema, s.Tb)
	return s
}
