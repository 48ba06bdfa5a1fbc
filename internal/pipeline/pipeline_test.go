package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/pipeline"
)

// recordingDelegate captures every callback for assertion.
type recordingDelegate struct {
	completes []pipeline.ExitCode
	done      *pipeline.ExitCode
	stopped   bool
}

func (d *recordingDelegate) OnStageComplete(_ int, code pipeline.ExitCode) {
	d.completes = append(d.completes, code)
}

func (d *recordingDelegate) OnPipelineDone(code pipeline.ExitCode) {
	c := code
	d.done = &c
}

func (d *recordingDelegate) OnPipelineStopped() {
	d.stopped = true
}

// fnStage is a minimal Stage[In,Out] that runs a function synchronously,
// for exercising Pipeline wiring without a real fetcher/writer.
type fnStage[In, Out any] struct {
	fn func(In) (Out, pipeline.ExitCode)
}

func (s *fnStage[In, Out]) Start(_ context.Context, in In, done func(Out, pipeline.ExitCode)) {
	out, code := s.fn(in)
	done(out, code)
}

func (s *fnStage[In, Out]) Stop() {}

func TestPipeline_RunsStagesInOrderOnSuccess(t *testing.T) {
	t.Parallel()

	first := &fnStage[int, int]{fn: func(in int) (int, pipeline.ExitCode) {
		return in + 1, pipeline.Success
	}}
	second := &fnStage[int, string]{fn: func(in int) (string, pipeline.ExitCode) {
		return "value", pipeline.Success
	}}

	n1, n2 := pipeline.Bond[int, int, string](first, second)

	delegate := &recordingDelegate{}
	p := pipeline.New(delegate)
	p.Enqueue(n1)
	p.Enqueue(n2)

	p.Start(context.Background(), 10)

	require.False(t, p.IsRunning())
	require.Equal(t, []pipeline.ExitCode{pipeline.Success, pipeline.Success}, delegate.completes)
	require.NotNil(t, delegate.done)
	require.Equal(t, pipeline.Success, *delegate.done)
	require.False(t, delegate.stopped)
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	first := &fnStage[int, int]{fn: func(in int) (int, pipeline.ExitCode) {
		return in, pipeline.Failed
	}}
	second := &fnStage[int, int]{fn: func(in int) (int, pipeline.ExitCode) {
		t.Fatal("second stage must not run after first stage failed")

		return in, pipeline.Success
	}}

	n1, n2 := pipeline.Bond[int, int, int](first, second)

	delegate := &recordingDelegate{}
	p := pipeline.New(delegate)
	p.Enqueue(n1)
	p.Enqueue(n2)

	p.Start(context.Background(), 0)

	require.Equal(t, []pipeline.ExitCode{pipeline.Failed}, delegate.completes)
	require.NotNil(t, delegate.done)
	require.Equal(t, pipeline.Failed, *delegate.done)
}

// stoppableStage only completes when Stop is called, so tests can assert
// the Stop/OnPipelineStopped contract deterministically.
type stoppableStage struct {
	done func(int, pipeline.ExitCode)
}

func (s *stoppableStage) Start(_ context.Context, _ int, done func(int, pipeline.ExitCode)) {
	s.done = done
}

func (s *stoppableStage) Stop() {
	s.done(0, pipeline.Cancelled)
}

func TestPipeline_StopEmitsPipelineStoppedExactlyOnce(t *testing.T) {
	t.Parallel()

	stage := &stoppableStage{}
	node := pipeline.Bind[int, int](stage)

	delegate := &recordingDelegate{}
	p := pipeline.New(delegate)
	p.Enqueue(node)

	p.Start(context.Background(), 0)
	require.True(t, p.IsRunning())

	p.Stop()
	p.Stop() // idempotent

	require.True(t, delegate.stopped)
	require.False(t, p.IsRunning())
}
