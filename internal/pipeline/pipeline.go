// Package pipeline implements a generic staged-execution framework: an
// ordered list of stages with typed hand-off between consecutive stages,
// a single active stage at a time, and cooperative stop/cancel
// propagation.
//
// Typed hand-off is enforced at construction, not at run, by using Go's own
// type system: Bond takes two Stage[A,B] and Stage[B,C] values, so a
// mismatched middle type fails to compile rather than surfacing as a runtime
// panic. The runtime driver underneath is type-erased (Node/Bind) since a
// []Node slice can't carry per-element generic parameters; that's the "output
// slot" referred to in the design notes.
package pipeline

import "context"

// ExitCode is a stage's completion status. The pipeline treats Success
// specially (advance to the next stage); every other code terminates the
// run with that code.
type ExitCode int

const (
	// Success indicates the stage produced output and the pipeline should
	// advance.
	Success ExitCode = iota
	// Cancelled indicates the stage stopped because Stop was called.
	Cancelled
	// Failed is the generic non-success code for stages that don't need a
	// more specific one of their own (most stages define their own taxonomy
	// and still report via this same ExitCode type).
	Failed
)

// Stage is one step of a Pipeline, templated on its input and output
// object types. A Stage is bound to at most one predecessor and one
// successor at construction (via Bond), and is in exactly one of idle,
// running, or completed(exit code) at any time.
type Stage[In, Out any] interface {
	// Start begins execution with in as the input object. It must return
	// promptly; long-running work happens on the reactor via the delegate
	// callbacks, with the stage itself reporting completion through done.
	Start(ctx context.Context, in In, done func(Out, ExitCode))
	// Stop requests cooperative cancellation. The stage must still call its
	// done callback (with ExitCode Cancelled or whatever code applies)
	// exactly once.
	Stop()
}

// Node is the type-erased runtime view of a Stage the Pipeline driver holds:
// a slice of Stage[A,B] values of differing A/B can't exist in Go, so Bind
// wraps each Stage in a generic adapter conforming to this narrow shape.
type Node interface {
	start(ctx context.Context, in any, done func(out any, code ExitCode))
	stop()
}

type node[In, Out any] struct {
	stage Stage[In, Out]
}

func (n node[In, Out]) start(ctx context.Context, in any, done func(out any, code ExitCode)) {
	typedIn, _ := in.(In)
	n.stage.Start(ctx, typedIn, func(out Out, code ExitCode) {
		done(out, code)
	})
}

func (n node[In, Out]) stop() {
	n.stage.Stop()
}

// Bind erases a Stage[In,Out]'s generic parameters into a Node, for storage
// in a Pipeline's stage list.
func Bind[In, Out any](stage Stage[In, Out]) Node {
	return node[In, Out]{stage: stage}
}

// Bond asserts at compile time that prev's output type matches next's input
// type, then returns both as Nodes in execution order. A call site that
// bonds mismatched stages fails to compile: there is no runtime "bad wiring"
// error to test for.
func Bond[A, B, C any](prev Stage[A, B], next Stage[B, C]) (Node, Node) {
	return Bind(prev), Bind(next)
}

// Delegate receives pipeline lifecycle callbacks.
type Delegate interface {
	// OnStageComplete fires once per stage, after it reports completion.
	OnStageComplete(index int, code ExitCode)
	// OnPipelineDone fires once, after the last stage that ran completes,
	// whether that's because every stage succeeded or one failed.
	OnPipelineDone(finalCode ExitCode)
	// OnPipelineStopped fires once, instead of OnPipelineDone, if Stop was
	// called before the run finished.
	OnPipelineStopped()
}

// Pipeline drives an ordered list of Nodes: at most one is running at a
// time, a stage starts only after its predecessor completed with Success,
// and any non-success completion terminates the run without starting later
// stages.
type Pipeline struct {
	nodes    []Node
	delegate Delegate

	ctx      context.Context
	cancel   context.CancelFunc
	running  bool
	stopping bool
	current  int
}

// New returns an empty Pipeline reporting lifecycle events to delegate.
func New(delegate Delegate) *Pipeline {
	return &Pipeline{delegate: delegate}
}

// Enqueue appends a Node to the run order. Nodes must be enqueued in the
// same order they were Bond-ed.
func (p *Pipeline) Enqueue(n Node) {
	p.nodes = append(p.nodes, n)
}

// IsRunning reports whether a stage is currently active.
func (p *Pipeline) IsRunning() bool {
	return p.running
}

// Start begins execution with the first stage's input object. Completion is
// reported via the Delegate; stages that complete synchronously have their
// callbacks delivered before Start returns.
func (p *Pipeline) Start(ctx context.Context, in any) {
	if len(p.nodes) == 0 {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.stopping = false
	p.current = 0

	p.runCurrent(in)
}

// Stop requests cooperative cancellation. Idempotent: calling it more than
// once, or after the run has already finished, has no further effect.
func (p *Pipeline) Stop() {
	if !p.running || p.stopping {
		return
	}

	p.stopping = true

	if p.cancel != nil {
		p.cancel()
	}

	p.nodes[p.current].stop()
}

func (p *Pipeline) runCurrent(in any) {
	index := p.current

	p.nodes[index].start(p.ctx, in, func(out any, code ExitCode) {
		p.onStageDone(index, out, code)
	})
}

func (p *Pipeline) onStageDone(index int, out any, code ExitCode) {
	p.delegate.OnStageComplete(index, code)

	if p.stopping {
		p.running = false
		p.delegate.OnPipelineStopped()

		return
	}

	if code != Success {
		p.running = false
		p.delegate.OnPipelineDone(code)

		return
	}

	if index+1 >= len(p.nodes) {
		p.running = false
		p.delegate.OnPipelineDone(Success)

		return
	}

	p.current = index + 1
	p.runCurrent(out)
}
