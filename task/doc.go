// Package task defines the task instance, the result union, task
// definitions, and the definition registry.
//
// # Instance
//
// An [Instance] is one submitted unit of work. It is created by the App,
// copied into a backend queue, and never mutated afterwards. Fields of note:
//   - Queue: routing key (default: "default")
//   - Priority: higher values are dequeued first; FIFO among equals
//   - TTL: staleness bound checked at dequeue; negative never expires
//   - ResultReturn / ResultTTL: whether results are stored, and for how long
//     after the last push
//   - Streaming: the sender knew the task as a generator. It is a hint for
//     telemetry only; the consumer decides the result shape from the
//     definition it actually runs (see [ShapeOf])
//
// # Results
//
// A [Result] is a tagged union:
//
//	Value(v)    one produced value; Final on a single-value execution
//	Failure(f)  terminal failure of the task body
//	Closed      end of a streaming sequence
//
// Each result carries an [Index] made of the run token of the execution
// that produced it and a sequence number starting at 1.
//
// # Definitions
//
// [Definition] is a closed sum of three variants:
//
//	var Add = task.NewFunc("add", func(_ context.Context, in *task.Instance) (any, error) {
//	    return in.Args[0].(int) + in.Args[1].(int), nil
//	})
//
//	var Countdown = task.NewGenerator("countdown", func(_ context.Context, in *task.Instance) iter.Seq2[any, error] {
//	    return func(yield func(any, error) bool) {
//	        for i := in.Args[0].(int); i > 0; i-- {
//	            if !yield(i, nil) {
//	                return
//	            }
//	        }
//	    }
//	})
//
// and [Unknown], the placeholder used to route tasks whose body lives in
// another process.
package task
