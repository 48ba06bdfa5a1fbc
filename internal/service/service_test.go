package service_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/download"
	"github.com/coreos/update-engine/internal/fetcher"
	"github.com/coreos/update-engine/internal/iosink"
	"github.com/coreos/update-engine/internal/plan"
	"github.com/coreos/update-engine/internal/reactor"
	"github.com/coreos/update-engine/internal/service"
)

type fakeChecker struct {
	plan  plan.Plan
	found bool
	err   error
}

func (f fakeChecker) Check(context.Context) (plan.Plan, bool, error) {
	return f.plan, f.found, f.err
}

type fakeActivator struct {
	err error
}

func (f fakeActivator) Activate(context.Context, plan.Plan) error {
	return f.err
}

func TestService_AttemptUpdate_NoopWhenNotIdle(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop())

	first := svc.AttemptUpdate(context.Background())
	require.Equal(t, service.CheckingForUpdate, first)

	second := svc.AttemptUpdate(context.Background())
	require.Equal(t, service.CheckingForUpdate, second)
}

func TestService_AttemptUpdate_NoUpdateReturnsToIdle(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop())

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	require.Equal(t, service.Idle, svc.GetStatus().State)
}

func TestService_AttemptUpdate_CheckErrorReportsError(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{err: errors.New("boom")}, fakeActivator{}, zerolog.Nop())

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	st := svc.GetStatus()
	require.Equal(t, service.ReportingError, st.State)
}

func TestService_ResetStatus_IdempotentFromReportingError(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{err: errors.New("boom")}, fakeActivator{}, zerolog.Nop())

	svc.AttemptUpdate(context.Background())
	rx.RunReady()
	require.Equal(t, service.ReportingError, svc.GetStatus().State)

	svc.ResetStatus()
	require.Equal(t, service.Idle, svc.GetStatus().State)

	svc.ResetStatus()
	require.Equal(t, service.Idle, svc.GetStatus().State)
}

func TestService_ResetStatus_NoopWhenAlreadyIdle(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{}, fakeActivator{}, zerolog.Nop())

	svc.ResetStatus()
	require.Equal(t, service.Idle, svc.GetStatus().State)
}

func TestService_Subscribe_ReceivesTransitions(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop())

	ch := svc.Subscribe()

	svc.AttemptUpdate(context.Background())

	select {
	case st := <-ch:
		require.Equal(t, service.CheckingForUpdate, st.State)
	default:
		t.Fatal("expected a status on the subscriber channel")
	}

	rx.RunReady()

	select {
	case st := <-ch:
		require.Equal(t, service.Idle, st.State)
	default:
		t.Fatal("expected a status after the check completed")
	}
}

func TestService_Unsubscribe_StopsDelivery(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop())

	ch := svc.Subscribe()
	svc.Unsubscribe(ch)

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	select {
	case <-ch:
		t.Fatal("expected no delivery after Unsubscribe")
	default:
	}
}

// newWiredService builds a Service whose Download Stage serves data from a
// fake fetcher into an in-memory sink, with the given checker and activator.
func newWiredService(checker service.Checker, activator service.Activator, data []byte) (*service.Service, *iosink.BufferSink, *reactor.Fake) {
	rx := reactor.NewFake()
	sink := iosink.NewBufferSink()
	svc := service.New(rx, checker, activator, zerolog.Nop())

	stage := download.NewStage(
		func(plan.Plan) fetcher.Fetcher { return fetcher.NewFake(data) },
		func(plan.Plan) iosink.Sink { return sink },
		svc,
		rx,
		zerolog.Nop(),
	)
	svc.SetDownloadStage(stage)

	return svc, sink, rx
}

func TestService_FullUpdateFlow(t *testing.T) {
	t.Parallel()

	data := []byte("payload bytes")
	sum := sha256.Sum256(data)
	p := plan.Plan{
		URL:         "http://example.test/payload",
		PayloadSize: uint64(len(data)),
		PayloadHash: sum[:],
		InstallPath: "/dev/sdb3",
		Version:     "2135.4.0",
	}

	svc, sink, rx := newWiredService(fakeChecker{plan: p, found: true}, fakeActivator{}, data)

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	st := svc.GetStatus()
	require.Equal(t, service.UpdatedNeedReboot, st.State)
	require.Equal(t, 1.0, st.ProgressFrac)
	require.Equal(t, "2135.4.0", st.NewVersion)
	require.Equal(t, uint64(len(data)), st.NewSizeBytes)
	require.Equal(t, data, sink.Bytes())
}

func TestService_ActivationFailureReportsActivationError(t *testing.T) {
	t.Parallel()

	data := []byte("payload bytes")
	sum := sha256.Sum256(data)
	p := plan.Plan{
		URL:         "http://example.test/payload",
		PayloadSize: uint64(len(data)),
		PayloadHash: sum[:],
		InstallPath: "/dev/sdb3",
	}

	svc, _, rx := newWiredService(fakeChecker{plan: p, found: true}, fakeActivator{err: errors.New("gpt op failed")}, data)

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	st := svc.GetStatus()
	require.Equal(t, service.ReportingError, st.State)
	require.Equal(t, "reporting-error:ActivationError", st.StateString())

	svc.ResetStatus()
	require.Equal(t, service.Idle, svc.GetStatus().State)
}

func TestService_HashMismatchReportsHashError(t *testing.T) {
	t.Parallel()

	data := []byte("payload bytes")
	p := plan.Plan{
		URL:         "http://example.test/payload",
		PayloadSize: uint64(len(data)),
		PayloadHash: make([]byte, 32),
		InstallPath: "/dev/sdb3",
	}

	svc, _, rx := newWiredService(fakeChecker{plan: p, found: true}, fakeActivator{}, data)

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	st := svc.GetStatus()
	require.Equal(t, service.ReportingError, st.State)
	require.Equal(t, "reporting-error:DownloadHashMismatch", st.StateString())
}

// stallFetcher never delivers a chunk on its own; Terminate schedules the
// termination acknowledgement, so a test can stop a pipeline while the
// download is parked mid-transfer.
type stallFetcher struct {
	rx       reactor.Reactor
	delegate fetcher.Delegate
}

func (f *stallFetcher) SetOffset(uint64) {}

func (f *stallFetcher) Begin(_ context.Context, rx reactor.Reactor, d fetcher.Delegate) {
	f.rx = rx
	f.delegate = d
}

func (f *stallFetcher) Terminate() {
	f.rx.Schedule(0, f.delegate.OnTransferTerminated)
}

func TestService_StopUpdateReturnsToIdle(t *testing.T) {
	t.Parallel()

	p := plan.Plan{
		URL:         "http://example.test/payload",
		PayloadSize: 100,
		PayloadHash: make([]byte, 32),
		InstallPath: "/dev/sdb3",
	}

	rx := reactor.NewFake()
	svc := service.New(rx, fakeChecker{plan: p, found: true}, fakeActivator{}, zerolog.Nop())

	stage := download.NewStage(
		func(plan.Plan) fetcher.Fetcher { return &stallFetcher{} },
		func(plan.Plan) iosink.Sink { return iosink.NewBufferSink() },
		svc,
		rx,
		zerolog.Nop(),
	)
	svc.SetDownloadStage(stage)

	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	require.Equal(t, service.Downloading, svc.GetStatus().State)

	svc.StopUpdate()
	rx.RunReady()

	require.Equal(t, service.Idle, svc.GetStatus().State)

	// Idempotent: stopping again with nothing running changes nothing.
	svc.StopUpdate()
	require.Equal(t, service.Idle, svc.GetStatus().State)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "idle", service.Idle.String())
	require.Equal(t, "updated-need-reboot", service.UpdatedNeedReboot.String())
}

// A no-update check leaves GetStatus identical to a freshly constructed
// Service's snapshot, save for LastCheckedUnix: nothing else about the
// status should have moved.
func TestService_AttemptUpdate_NoUpdateSnapshotMatchesFreshExceptTimestamp(t *testing.T) {
	t.Parallel()

	rx := reactor.NewFake()
	fresh := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop()).GetStatus()

	svc := service.New(rx, fakeChecker{found: false}, fakeActivator{}, zerolog.Nop())
	svc.AttemptUpdate(context.Background())
	rx.RunReady()

	got := svc.GetStatus()
	got.LastCheckedUnix = fresh.LastCheckedUnix

	if diff := cmp.Diff(fresh, got); diff != "" {
		t.Fatalf("status snapshot diverged from fresh service (-fresh +got):\n%s", diff)
	}
}
