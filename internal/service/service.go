// Package service implements the Update Service State Machine: the
// top-level controller exposing idle→checking→downloading→
// verifying→finalizing→updated-need-reboot, with reset and progress
// observation. It owns the single mutable shared state the rest of the
// engine reads: because everything runs on one reactor, reads are
// naturally consistent with writes made between suspension points.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreos/update-engine/internal/download"
	"github.com/coreos/update-engine/internal/pipeline"
	"github.com/coreos/update-engine/internal/plan"
	"github.com/coreos/update-engine/internal/reactor"
)

// State is the service's current phase.
type State int

const (
	Idle State = iota
	CheckingForUpdate
	Downloading
	Verifying
	Finalizing
	UpdatedNeedReboot
	ReportingError
)

// String implements fmt.Stringer, matching the state strings GetStatus
// exposes over the bus.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CheckingForUpdate:
		return "checking-for-update"
	case Downloading:
		return "downloading"
	case Verifying:
		return "verifying"
	case Finalizing:
		return "finalizing"
	case UpdatedNeedReboot:
		return "updated-need-reboot"
	case ReportingError:
		return "reporting-error"
	default:
		return "unknown"
	}
}

// Checker produces an Install Plan, or reports that no update is available.
// It models the out-of-scope Omaha-style update-check collaborator purely
// by its output contract.
type Checker interface {
	Check(ctx context.Context) (plan.Plan, bool, error)
}

// Activator runs the Slot Activator against the freshly
// downloaded payload.
type Activator interface {
	Activate(ctx context.Context, p plan.Plan) error
}

// Status is the GetStatus snapshot.
type Status struct {
	State           State
	ProgressFrac    float64
	NewVersion      string
	NewSizeBytes    uint64
	LastCheckedUnix int64
	ErrorKind       string
}

// StateString is the bus-facing state string. While reporting an error it
// carries the error kind, since the kind is only exposed through the state
// string on the control surface.
func (st Status) StateString() string {
	if st.State == ReportingError && st.ErrorKind != "" {
		return st.State.String() + ":" + st.ErrorKind
	}

	return st.State.String()
}

// Service is the Update Service State Machine.
type Service struct {
	rx        reactor.Reactor
	checker   Checker
	activator Activator
	log       zerolog.Logger

	state       State
	progress    float64
	newVersion  string
	newSize     uint64
	lastChecked time.Time
	errorKind   string
	currentPlan plan.Plan
	downloadStg *download.Stage
	activateStg *activateStage
	pipe        *pipeline.Pipeline
	failedStage int

	subscribers []chan Status
}

// New returns an idle Service.
func New(rx reactor.Reactor, checker Checker, activator Activator, log zerolog.Logger) *Service {
	return &Service{
		rx:        rx,
		checker:   checker,
		activator: activator,
		log:       log.With().Str("component", "service").Logger(),
		state:     Idle,
	}
}

// GetStatus returns a snapshot of the current state.
func (s *Service) GetStatus() Status {
	return Status{
		State:           s.state,
		ProgressFrac:    s.progress,
		NewVersion:      s.newVersion,
		NewSizeBytes:    s.newSize,
		LastCheckedUnix: s.lastChecked.Unix(),
		ErrorKind:       s.errorKind,
	}
}

// Subscribe returns a channel that receives a Status snapshot after every
// state transition, for observers that want push updates instead of
// polling GetStatus (e.g. a progress bar). The channel is buffered to one
// slot and only ever holds the latest snapshot: a slow subscriber drops
// intermediate updates rather than blocking the service loop. Call
// Unsubscribe with the same channel to stop receiving and let it be
// garbage collected.
func (s *Service) Subscribe() <-chan Status {
	ch := make(chan Status, 1)
	s.subscribers = append(s.subscribers, ch)

	return ch
}

// Unsubscribe removes ch from the notification list. Safe to call with a
// channel that was already removed or never subscribed.
func (s *Service) Unsubscribe(ch <-chan Status) {
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)

			return
		}
	}
}

// notify pushes the current status to every subscriber, dropping a stale
// buffered snapshot first so the latest one always fits without blocking.
func (s *Service) notify() {
	st := s.GetStatus()

	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- st:
			default:
			}
		}
	}
}

// AttemptUpdate starts a check if Idle; otherwise it's a no-op that returns
// the current state.
func (s *Service) AttemptUpdate(ctx context.Context) State {
	if s.state != Idle {
		return s.state
	}

	s.state = CheckingForUpdate
	s.lastChecked = s.rx.Now()
	s.notify()

	s.rx.Schedule(0, func() {
		s.runCheck(ctx)
	})

	return s.state
}

// ResetStatus clears ReportingError or UpdatedNeedReboot back to Idle.
// Idempotent: calling it twice has the same effect as once.
func (s *Service) ResetStatus() {
	if s.state == ReportingError || s.state == UpdatedNeedReboot {
		s.state = Idle
		s.errorKind = ""
		s.progress = 0
		s.notify()
	}
}

func (s *Service) runCheck(ctx context.Context) {
	p, found, err := s.checker.Check(ctx)
	if err != nil {
		s.fail(errKindTransport, err)

		return
	}

	if !found {
		s.state = Idle
		s.notify()

		return
	}

	s.currentPlan = p
	s.newVersion = p.Version
	s.newSize = p.PayloadSize
	s.state = Downloading
	s.progress = 0
	s.notify()

	s.rx.Schedule(0, func() {
		s.runDownload(ctx)
	})
}

// errKind* name the ReportingError{kind} values the state string exposes.
const (
	errKindTransport  = "DownloadTransportError"
	errKindWrite      = "DownloadWriteError"
	errKindSize       = "DownloadSizeMismatch"
	errKindHash       = "DownloadHashMismatch"
	errKindCancelled  = "Cancelled"
	errKindActivation = "ActivationError"
)

func (s *Service) fail(kind string, err error) {
	s.log.Error().Err(err).Str("kind", kind).Msg("update failed")
	s.state = ReportingError
	s.errorKind = kind
	s.notify()
}

// SetDownloadStatus implements download.Delegate.
func (s *Service) SetDownloadStatus(active bool) {
	if active {
		s.log.Debug().Msg("download started")
	} else {
		s.log.Debug().Msg("download finished")
	}
}

// BytesReceived implements download.Delegate.
func (s *Service) BytesReceived(_ int, cumulative, total uint64) {
	if total > 0 {
		s.progress = float64(cumulative) / float64(total)
	}

	s.notify()
}

// runDownload builds and starts the update-application pipeline: the
// Download Stage bonded to the activation stage, with the Service itself as
// the pipeline delegate. A fresh Pipeline is built per attempt since a
// Pipeline's stage list is fixed once started.
func (s *Service) runDownload(ctx context.Context) {
	if s.downloadStg == nil {
		s.fail(errKindWrite, errors.New("service: no download stage configured"))

		return
	}

	s.activateStg = &activateStage{activator: s.activator}
	s.failedStage = -1

	dl, act := pipeline.Bond[plan.Plan, plan.Plan, plan.Plan](s.downloadStg, s.activateStg)

	s.pipe = pipeline.New(s)
	s.pipe.Enqueue(dl)
	s.pipe.Enqueue(act)
	s.pipe.Start(ctx, s.currentPlan)
}

// OnStageComplete implements pipeline.Delegate. The download stage (index 0)
// completing with Success means the payload landed and its hash checked out,
// so the service passes through Verifying into Finalizing before the
// activation stage starts.
func (s *Service) OnStageComplete(index int, code pipeline.ExitCode) {
	if code != pipeline.Success {
		s.failedStage = index

		return
	}

	if index == stageDownload {
		s.state = Verifying
		s.progress = 1
		s.notify()

		s.state = Finalizing
		s.notify()
	}
}

// OnPipelineDone implements pipeline.Delegate.
func (s *Service) OnPipelineDone(finalCode pipeline.ExitCode) {
	switch {
	case finalCode == pipeline.Success:
		s.state = UpdatedNeedReboot
		s.notify()
	case finalCode == pipeline.Cancelled:
		s.state = Idle
		s.progress = 0
		s.notify()
	case s.failedStage == stageActivate:
		s.fail(errKindActivation, s.activateStg.lastErr)
	default:
		err := s.downloadStg.LastError()
		s.fail(classifyDownloadErr(err), err)
	}
}

// OnPipelineStopped implements pipeline.Delegate. A stopped run returns to
// Idle silently, per the Cancelled error kind's recovery policy.
func (s *Service) OnPipelineStopped() {
	s.state = Idle
	s.progress = 0
	s.notify()
}

// Stage indices in the update-application pipeline.
const (
	stageDownload = 0
	stageActivate = 1
)

// activateStage adapts the Activator into a pipeline stage, so finalization
// runs under the same staged-execution contract as the download. Activation
// is not cooperatively cancellable: once GPT mutation begins, stopping
// midway is worse than finishing, so Stop is a no-op and the stage always
// runs to completion.
type activateStage struct {
	activator Activator
	lastErr   error
}

func (a *activateStage) Start(ctx context.Context, p plan.Plan, done func(plan.Plan, pipeline.ExitCode)) {
	if err := a.activator.Activate(ctx, p); err != nil {
		a.lastErr = err
		done(p, pipeline.Failed)

		return
	}

	a.lastErr = nil
	done(p, pipeline.Success)
}

func (a *activateStage) Stop() {}

func classifyDownloadErr(err error) string {
	switch {
	case errors.Is(err, download.ErrDownloadWriteError):
		return errKindWrite
	case errors.Is(err, download.ErrDownloadSizeMismatch):
		return errKindSize
	case errors.Is(err, download.ErrDownloadHashMismatch):
		return errKindHash
	case errors.Is(err, download.ErrCancelled):
		return errKindCancelled
	default:
		return errKindTransport
	}
}

// StopUpdate cooperatively cancels an in-flight update pipeline, e.g. on
// daemon shutdown. No-op when nothing is running. The service returns to
// Idle once the active stage acknowledges the stop.
func (s *Service) StopUpdate() {
	if s.pipe != nil && s.pipe.IsRunning() {
		s.pipe.Stop()
	}
}

// SetDownloadStage wires the Download Stage this service drives; kept as a
// setter rather than a constructor argument since the stage's delegate is
// the Service itself (a wiring cycle that's simplest to break with a setter).
func (s *Service) SetDownloadStage(stage *download.Stage) {
	s.downloadStg = stage
}
