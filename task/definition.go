package task

import (
	"context"
	"fmt"
	"iter"

	"github.com/xraph/taskbus"
)

// Definition is the execution definition registered under a task name.
// The set of variants is closed: *Func, *Generator, and Unknown.
type Definition interface {
	// Name is the unique identifier for this task type.
	Name() string

	// Options returns the defaults this definition applies to every
	// submission, before per-call overrides.
	Options() []Option

	// Sequence produces the lazy result sequence for one execution.
	// A non-nil error ends the sequence as a terminal failure.
	Sequence(ctx context.Context, in *Instance) iter.Seq2[any, error]

	definition()
}

// Shape is the result shape of a definition, known only to the process
// that executes it.
type Shape uint8

const (
	// ShapeUnresolved marks a name with no local definition.
	ShapeUnresolved Shape = iota
	// ShapeSingle produces exactly one value.
	ShapeSingle
	// ShapeGenerator produces zero or more values and ends with Closed.
	ShapeGenerator
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeGenerator:
		return "generator"
	default:
		return "unresolved"
	}
}

// ShapeOf reports the shape of def. A nil definition is unresolved.
func ShapeOf(def Definition) Shape {
	switch def.(type) {
	case *Func:
		return ShapeSingle
	case *Generator:
		return ShapeGenerator
	default:
		return ShapeUnresolved
	}
}

// FuncHandler produces exactly one value.
type FuncHandler func(ctx context.Context, in *Instance) (any, error)

// GeneratorHandler produces a lazy sequence of values.
type GeneratorHandler func(ctx context.Context, in *Instance) iter.Seq2[any, error]

// Func is a definition whose body returns a single value.
type Func struct {
	name    string
	handler FuncHandler
	opts    []Option
}

// NewFunc creates a single-value task definition.
func NewFunc(name string, handler FuncHandler, opts ...Option) *Func {
	return &Func{name: name, handler: handler, opts: opts}
}

func (f *Func) Name() string      { return f.name }
func (f *Func) Options() []Option { return f.opts }
func (f *Func) definition()       {}

func (f *Func) Sequence(ctx context.Context, in *Instance) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		yield(f.handler(ctx, in))
	}
}

// Generator is a definition whose body yields zero or more values.
// Submissions of a generator are streaming.
type Generator struct {
	name    string
	handler GeneratorHandler
	opts    []Option
}

// NewGenerator creates a streaming task definition.
func NewGenerator(name string, handler GeneratorHandler, opts ...Option) *Generator {
	all := append([]Option{WithStreaming(true)}, opts...)
	return &Generator{name: name, handler: handler, opts: all}
}

func (g *Generator) Name() string      { return g.name }
func (g *Generator) Options() []Option { return g.opts }
func (g *Generator) definition()       {}

func (g *Generator) Sequence(ctx context.Context, in *Instance) iter.Seq2[any, error] {
	return g.handler(ctx, in)
}

// Unknown stands in for a task whose body is not registered in this
// process. It can be submitted and routed; executing it fails.
type Unknown struct {
	name string
}

// NewUnknown creates the placeholder definition for name.
func NewUnknown(name string) Unknown { return Unknown{name: name} }

func (u Unknown) Name() string    { return u.name }
func (Unknown) Options() []Option { return nil }
func (Unknown) definition()       {}

func (u Unknown) Sequence(_ context.Context, _ *Instance) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		yield(nil, fmt.Errorf("%w: no definition registered for %q", taskbus.ErrRouting, u.name))
	}
}
