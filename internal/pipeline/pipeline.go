// Package pipeline implements the Supervisor: startup/shutdown
// orchestration and the drain-dispatch loop, per spec.md §4.7.
package pipeline

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/replimux/replimux/internal/extractor/common"
	"github.com/replimux/replimux/internal/monitor"
	"github.com/replimux/replimux/internal/parallel"
	"github.com/replimux/replimux/internal/queue"
)

// Extractor is the narrow contract the supervisor drives: a single
// long-running operation that returns when the source is exhausted
// (snapshot/check) or shut_down is observed (CDC), matching spec.md §4.3's
// common extractor contract.
type Extractor interface {
	Run(ctx context.Context) error
}

type Supervisor struct {
	Queue         *queue.Queue
	ShutDown      *common.ShutDownFlag
	Extractor     Extractor
	Parallelizer  *parallel.Parallelizer
	Sinkers       []parallel.Sinker
	Monitor       *monitor.Monitor
	Log           *logrus.Entry

	BufferSize             int
	BufferBytes            uint64
	BufferTimeout          time.Duration
	CheckpointInterval     time.Duration

	OnCheckpoint func(pos string)
}

// Run launches the extractor as one concurrent task and enters the
// drain-dispatch loop until shut_down is observed, then awaits extractor
// completion, awaits the queue going empty, flushes metrics, and closes
// every sinker — in that order, per spec.md §4.7.
func (s *Supervisor) Run(ctx context.Context) error {
	extractorErrCh := make(chan error, 1)
	extractorCtx, cancelExtractor := context.WithCancel(ctx)
	defer cancelExtractor()

	go func() {
		extractorErrCh <- s.Extractor.Run(extractorCtx)
	}()

	dispatchErrCh := make(chan error, 1)
	go func() {
		dispatchErrCh <- s.dispatchLoop(ctx)
	}()

	var finalErr error
	// dispatchDone records whether the select below already consumed
	// dispatchErrCh's one buffered value, since dispatchLoop exiting means
	// nobody is left to drain the queue and the channel must not be read
	// again.
	dispatchDone := false
	select {
	case err := <-extractorErrCh:
		if err != nil {
			finalErr = errors.Annotate(err, "extractor")
		}
		s.ShutDown.Set()
	case err := <-dispatchErrCh:
		dispatchDone = true
		if err != nil {
			finalErr = errors.Annotate(err, "dispatch")
		}
		s.ShutDown.Set()
		cancelExtractor()
		<-extractorErrCh
	case <-ctx.Done():
		s.ShutDown.Set()
		cancelExtractor()
		<-extractorErrCh
	}

	s.Queue.Close()

	if !dispatchDone {
		for !s.Queue.IsEmpty() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := <-dispatchErrCh; err != nil && finalErr == nil {
			finalErr = errors.Annotate(err, "dispatch")
		}
	}

	s.Monitor.TryFlush(true)

	for _, sk := range s.Sinkers {
		if err := sk.Close(ctx); err != nil && finalErr == nil {
			finalErr = errors.Annotate(err, "close sinker")
		}
	}

	return finalErr
}

// dispatchLoop is the consumer side: drain a batch, hand it to the
// parallelizer, advance the checkpoint from the last item's position, and
// flush metrics on CheckpointInterval.
func (s *Supervisor) dispatchLoop(ctx context.Context) error {
	var lastCheckpoint time.Time

	for {
		if s.ShutDown.IsSet() && s.Queue.IsEmpty() {
			return nil
		}

		items := s.Queue.PopBatch(ctx, s.BufferSize, s.BufferBytes, s.BufferTimeout)
		if len(items) == 0 {
			if s.ShutDown.IsSet() {
				return nil
			}
			continue
		}

		if err := s.Parallelizer.ProcessBatch(ctx, items); err != nil {
			return errors.Trace(err)
		}

		last := items[len(items)-1]
		if s.OnCheckpoint != nil {
			s.OnCheckpoint(last.Position.String())
		}

		if time.Since(lastCheckpoint) >= s.CheckpointInterval {
			s.Monitor.TryFlush(false)
			lastCheckpoint = time.Now()
		}
	}
}
