// Package common holds the extractor behaviors shared across source kinds,
// grounded on base_extractor.rs in original_source/: time-window
// filtering, the data-marker hook, and heartbeat bookkeeping that every
// concrete extractor composes rather than reimplements.
package common

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/replimux/replimux/internal/marker"
	"github.com/replimux/replimux/internal/meta"
	"github.com/replimux/replimux/internal/queue"
)

// TimeFilter gates DML by wall-clock timestamp against a configured
// [start, end) window, matching spec.md §4.7's time_filter.started/ended
// state machine. A zero Start/End disables the
// respective bound.
type TimeFilter struct {
	Start   time.Time
	End     time.Time
	started bool
	Ended   bool
}

func NewTimeFilter(start, end time.Time) *TimeFilter {
	tf := &TimeFilter{Start: start, End: end}
	tf.started = start.IsZero()
	return tf
}

// Admit reports whether an event observed at ts should be enqueued. Once
// Ended flips true the caller is expected to stop extracting entirely.
func (tf *TimeFilter) Admit(ts time.Time) bool {
	if tf.Ended {
		return false
	}
	if !tf.started {
		if ts.Before(tf.Start) {
			return false
		}
		tf.started = true
	}
	if !tf.End.IsZero() && !ts.Before(tf.End) {
		tf.Ended = true
		return false
	}
	return true
}

// Base bundles the fields every extractor embeds: a queue handle, a
// shutdown flag borrowed from the supervisor (spec.md §9's "global
// shut_down flag... borrowed by each task"), a marker, and a time filter.
type Base struct {
	Queue      *queue.Queue
	ShutDown   *ShutDownFlag
	Marker     *marker.Marker
	TimeFilter *TimeFilter
	OriginNode string
}

// Push applies the data-marker check and time filter before enqueuing, the
// same gate every concrete extractor's push_row/push_ddl path runs through
// in base_extractor.rs.
func (b *Base) Push(ctx context.Context, dt meta.DtData, pos meta.Position, ts time.Time) error {
	if b.TimeFilter != nil && !b.TimeFilter.Admit(ts) {
		return nil
	}
	if b.Marker != nil && b.Marker.RefreshAndCheck(dt) {
		return nil
	}
	item := meta.DtItem{Payload: dt, Position: pos, OriginNode: b.OriginNode}
	return b.Queue.Push(ctx, item)
}

// ShutDownFlag is an atomic-boolean handle shared between the supervisor
// and every task it owns, per spec.md §9's "global shut_down flag" note.
type ShutDownFlag struct {
	ch chan struct{}
}

func NewShutDownFlag() *ShutDownFlag {
	return &ShutDownFlag{ch: make(chan struct{})}
}

func (f *ShutDownFlag) Set() {
	select {
	case <-f.ch:
	default:
		close(f.ch)
	}
}

func (f *ShutDownFlag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

func (f *ShutDownFlag) Done() <-chan struct{} { return f.ch }

// PrecheckHeartbeat validates the heartbeat configuration the same way
// base_extractor.rs's precheck_heartbeat gate does: heartbeat is disabled,
// with a warning describing why, if the interval is zero or heartbeat_tb
// doesn't parse to a schema.tb pair. Callers should log the warning and
// skip starting the heartbeat loop when enabled is false.
func PrecheckHeartbeat(intervalSecs uint64, heartbeatTb string) (schema, tb string, enabled bool, warning string) {
	if intervalSecs == 0 {
		return "", "", false, "heartbeat disabled: heartbeat_interval_secs is 0"
	}
	parts := strings.SplitN(heartbeatTb, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false, fmt.Sprintf("heartbeat disabled: heartbeat_tb %q does not parse as schema.tb", heartbeatTb)
	}
	return parts[0], parts[1], true, ""
}

// RunHeartbeat ticks every intervalSecs until ctx is cancelled or shut_down
// fires, calling write on each tick so the source keeps advancing its
// log/WAL position under no user traffic (spec.md's heartbeat_tb note).
// It returns nil on clean shutdown and the first write error otherwise.
func (b *Base) RunHeartbeat(ctx context.Context, intervalSecs uint64, write func(ctx context.Context) error) error {
	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.ShutDown.Done():
			return nil
		case <-ticker.C:
			if err := write(ctx); err != nil {
				return err
			}
		}
	}
}
