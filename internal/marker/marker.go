// Package marker implements the data-marker loop-prevention protocol used
// to drop loopback writes in bi-directional replication topologies
// (spec.md §4.4).
package marker

import "github.com/replimux/replimux/internal/meta"

// Marker tracks the per-transaction loop-detection state described by
// spec.md's DataMarker type. One Marker is owned by a single extractor.
type Marker struct {
	MarkerSchema   string
	MarkerTb       string
	DataOriginNode string
	SrcNode        string
	DstNode        string

	// Filter is true while the current transaction is a recognized
	// loopback and all of its remaining events must be dropped.
	Filter bool
	// Reseted is true immediately after Begin, before the first DML of
	// the transaction has been classified.
	Reseted bool
}

func New(markerSchema, markerTb, dataOriginNode, srcNode, dstNode string) *Marker {
	return &Marker{
		MarkerSchema:   markerSchema,
		MarkerTb:       markerTb,
		DataOriginNode: dataOriginNode,
		SrcNode:        srcNode,
		DstNode:        dstNode,
	}
}

// Reset is called on Begin, restarting the per-transaction classification.
func (m *Marker) Reset() {
	m.Reseted = true
}

// IsMarkerTable reports whether (schema, tb) names the designated marker
// table, used by IsMarkerInfo below and directly by sinkers deciding
// whether a write target is the marker row itself.
func (m *Marker) IsMarkerTable(schema, tb string) bool {
	return schema == m.MarkerSchema && tb == m.MarkerTb
}

// IsMarkerInfo reports whether dt is a write to the marker table. Only DML
// is inspected: DDL is never filtered by the marker protocol (operators
// must configure one-way DDL topology, per spec.md §4.4).
func (m *Marker) IsMarkerInfo(dt meta.DtData) bool {
	if dt.Kind != meta.DtDml {
		return false
	}
	return m.IsMarkerTable(dt.Row.Schema, dt.Row.Tb)
}

// Refresh records that the current transaction's first DML matched the
// marker row; the marker record itself is then discarded by the caller.
func (m *Marker) Refresh(dt meta.DtData) {
	m.Filter = true
	m.Reseted = false
}

// RefreshAndCheck implements base_extractor.rs's
// refresh_and_check_data_marker: returns true when dt must be dropped.
// Begin/Commit reset per-transaction state; the first DML after a
// reset decides, for the rest of the transaction, whether it is a
// loopback. DDL is never dropped and does not take part in that decision.
func (m *Marker) RefreshAndCheck(dt meta.DtData) bool {
	if dt.IsBegin() || dt.IsCommit() {
		m.Reset()
		if dt.IsCommit() {
			m.Filter = false
		}
		return false
	}

	if dt.Kind == meta.DtDdl {
		return false
	}

	if m.Reseted {
		if m.IsMarkerInfo(dt) {
			m.Refresh(dt)
			// the marker write itself is always discarded.
			return true
		}
		// the first event after reset was not marker info: this
		// transaction is not a loopback, and we must not re-check
		// is_marker_info again until the next Begin.
		m.Filter = false
		m.Reseted = false
	}

	return m.Filter
}
