// Package download implements the Download Stage: it composes
// the HTTP Fetcher, File Writer, and Hash Calculator under the pipeline's
// Stage contract, reporting progress and failing on any mismatch or sink
// error.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/fetcher"
	"github.com/coreos/update-engine/internal/hashcalc"
	"github.com/coreos/update-engine/internal/iosink"
	"github.com/coreos/update-engine/internal/pipeline"
	"github.com/coreos/update-engine/internal/plan"
	"github.com/coreos/update-engine/internal/reactor"
)

// Exit codes specific to the Download Stage. The stage still
// reports through pipeline.ExitCode; these are carried out-of-band via
// LastError for the service state machine to classify.
var (
	ErrDownloadWriteError   = errors.New("download: write error")
	ErrDownloadSizeMismatch = errors.New("download: size mismatch")
	ErrDownloadHashMismatch = errors.New("download: hash mismatch")
	ErrDownloadTransportErr = errors.New("download: transport error")
	ErrCancelled            = errors.New("download: cancelled")
)

// Delegate receives Download Stage lifecycle and progress callbacks.
type Delegate interface {
	// SetDownloadStatus is called exactly once with true at start and
	// exactly once with false on any exit, true strictly before false.
	SetDownloadStatus(active bool)
	// BytesReceived reports a chunk's size, the cumulative total received so
	// far, and the plan's total size. cumulative is strictly increasing
	// across calls within one run.
	BytesReceived(chunkSize int, cumulative, total uint64)
}

// Stage is the Download Stage: input and output are both plan.Plan
// (pass-through), so downstream stages read the same plan.
type Stage struct {
	newFetcher func(p plan.Plan) fetcher.Fetcher
	newSink    func(p plan.Plan) iosink.Sink
	delegate   Delegate
	rx         reactor.Reactor
	log        zerolog.Logger

	hash *hashcalc.Calculator

	sink       iosink.Sink
	fetch      fetcher.Fetcher
	cumulative uint64
	statusSent bool
	stopped    bool
	finished   bool
	lastErr    error
}

// NewStage returns a Download Stage. newFetcher builds the Fetcher bound to
// the plan's URL, and newSink opens the File Writer at the plan's install
// path; both are factories since those values vary per run.
func NewStage(newFetcher func(p plan.Plan) fetcher.Fetcher, newSink func(p plan.Plan) iosink.Sink, delegate Delegate, rx reactor.Reactor, log zerolog.Logger) *Stage {
	return &Stage{
		newFetcher: newFetcher,
		newSink:    newSink,
		delegate:   delegate,
		rx:         rx,
		log:        log.With().Str("component", "download").Logger(),
		hash:       hashcalc.New(),
	}
}

// LastError returns the error from the most recently completed run, for the
// state machine to classify into a ReportingError kind.
func (s *Stage) LastError() error {
	return s.lastErr
}

var _ pipeline.Stage[plan.Plan, plan.Plan] = (*Stage)(nil)

// Start implements pipeline.Stage.
func (s *Stage) Start(ctx context.Context, p plan.Plan, done func(plan.Plan, pipeline.ExitCode)) {
	s.cumulative = 0
	s.statusSent = false
	s.stopped = false
	s.finished = false
	s.lastErr = nil
	s.hash.Reset()
	s.sink = s.newSink(p)

	if err := s.sink.Open(); err != nil {
		s.lastErr = fmt.Errorf("%w: %v", ErrDownloadWriteError, err)
		done(p, pipeline.Failed)

		return
	}

	if err := s.sink.Seek(0); err != nil {
		s.lastErr = fmt.Errorf("%w: %v", ErrDownloadWriteError, err)
		_ = s.sink.Close()
		done(p, pipeline.Failed)

		return
	}

	s.emitStatus(true)

	s.fetch = s.newFetcher(p)
	s.fetch.Begin(ctx, s.rx, &stageDelegate{stage: s, plan: p, done: done})
}

// Stop implements pipeline.Stage.
func (s *Stage) Stop() {
	s.stopped = true

	if s.fetch != nil {
		s.fetch.Terminate()
	}
}

func (s *Stage) emitStatus(active bool) {
	if active {
		if s.statusSent {
			return
		}

		s.statusSent = true
	}

	s.delegate.SetDownloadStatus(active)
}

// finish completes the run exactly once. A terminated fetcher still
// acknowledges via OnTransferTerminated after a write failure already ended
// the run; the guard keeps that late acknowledgement from re-emitting the
// status=false call or the done callback.
func (s *Stage) finish(p plan.Plan, code pipeline.ExitCode, err error, done func(plan.Plan, pipeline.ExitCode)) {
	if s.finished {
		return
	}

	s.finished = true
	s.lastErr = err
	s.emitStatus(false)
	done(p, code)
}

// stageDelegate adapts fetcher.Delegate callbacks into Stage completion
// logic; kept separate from Stage so Start's closures don't need an
// interface satisfied by *Stage itself (which would blur the Stage/fetcher
// delegate lifecycles).
type stageDelegate struct {
	stage *Stage
	plan  plan.Plan
	done  func(plan.Plan, pipeline.ExitCode)
}

func (d *stageDelegate) OnChunk(_ uint64, chunk []byte) {
	s := d.stage

	if s.finished {
		return
	}

	if err := s.sink.Write(chunk); err != nil {
		if s.fetch != nil {
			s.fetch.Terminate()
		}

		_ = s.sink.Close()
		s.finish(d.plan, pipeline.Failed, fmt.Errorf("%w: %v", ErrDownloadWriteError, err), d.done)

		return
	}

	s.hash.Write(chunk)
	s.cumulative += uint64(len(chunk))

	s.delegate.BytesReceived(len(chunk), s.cumulative, d.plan.PayloadSize)
}

func (d *stageDelegate) OnTransferComplete(success bool) {
	s := d.stage

	if s.finished {
		return
	}

	if !success {
		_ = s.sink.Close()
		s.finish(d.plan, pipeline.Failed, ErrDownloadTransportErr, d.done)

		return
	}

	if s.cumulative != d.plan.PayloadSize {
		_ = s.sink.Close()
		s.finish(d.plan, pipeline.Failed, ErrDownloadSizeMismatch, d.done)

		return
	}

	sum := s.hash.Sum()
	if !bytes.Equal(sum, d.plan.PayloadHash) {
		_ = s.sink.Close()
		s.finish(d.plan, pipeline.Failed, ErrDownloadHashMismatch, d.done)

		return
	}

	if err := s.sink.Close(); err != nil {
		s.finish(d.plan, pipeline.Failed, fmt.Errorf("%w: %v", ErrDownloadWriteError, err), d.done)

		return
	}

	s.finish(d.plan, pipeline.Success, nil, d.done)
}

func (d *stageDelegate) OnTransferTerminated() {
	s := d.stage

	if s.finished {
		return
	}

	_ = s.sink.Close()

	if s.stopped {
		s.finish(d.plan, pipeline.Cancelled, ErrCancelled, d.done)

		return
	}

	s.finish(d.plan, pipeline.Failed, ErrDownloadTransportErr, d.done)
}
