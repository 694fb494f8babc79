package task

import (
	"errors"
	"fmt"

	"github.com/xraph/taskbus/id"
)

// Kind tags the variant held by a Result.
type Kind uint8

const (
	// KindValue holds one successfully produced value.
	KindValue Kind = iota + 1
	// KindFailure holds the terminal failure of the task body.
	KindFailure
	// KindClosed ends a streaming result sequence.
	KindClosed
)

// String returns the lowercase variant name.
func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFailure:
		return "failure"
	case KindClosed:
		return "closed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Index orders the results of one task. Run is a fresh token per
// execution; Seq starts at 1 and increases by one per result.
type Index struct {
	Run id.RunID `json:"run"`
	Seq uint64   `json:"seq"`
}

// Failure describes why a task body failed.
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Result is one unit of output for an Instance.
type Result struct {
	Kind    Kind     `json:"kind"`
	Value   any      `json:"value"`
	Failure *Failure `json:"failure,omitempty"`
	Index   Index    `json:"index"`

	// Final marks the only value of a single-value execution. Nothing
	// follows it.
	Final bool `json:"final,omitempty"`
}

// Value builds a KindValue result.
func Value(idx Index, v any) Result {
	return Result{Kind: KindValue, Value: v, Index: idx}
}

// FinalValue builds the KindValue result of a single-value execution.
func FinalValue(idx Index, v any) Result {
	return Result{Kind: KindValue, Value: v, Index: idx, Final: true}
}

// Fail builds a KindFailure result.
func Fail(idx Index, f Failure) Result {
	return Result{Kind: KindFailure, Failure: &f, Index: idx}
}

// Closed builds the end-of-stream result.
func Closed(idx Index) Result {
	return Result{Kind: KindClosed, Index: idx}
}

// IsValue reports whether r holds a value.
func (r Result) IsValue() bool { return r.Kind == KindValue }

// IsFailure reports whether r holds a failure.
func (r Result) IsFailure() bool { return r.Kind == KindFailure }

// Ends reports whether no result for the same execution follows r.
func (r Result) Ends() bool { return r.Final || r.Kind != KindValue }

// IsClosed reports whether r ends a streaming sequence.
func (r Result) IsClosed() bool { return r.Kind == KindClosed }

// tracer is implemented by errors that carry their own failure context,
// such as recovered panics.
type tracer interface {
	Trace() string
}

// FailureFrom converts an error raised by a task body into a Failure.
func FailureFrom(err error) Failure {
	f := Failure{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
	}
	var t tracer
	if errors.As(err, &t) {
		f.Trace = t.Trace()
	} else {
		f.Trace = fmt.Sprintf("%+v", err)
	}
	return f
}
