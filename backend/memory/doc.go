// Package memory is the reference in-process backend.
//
// State is keyed by a broker identity held in a [Registry]. Every [Backend]
// opened with the same identity is a reference-counted view over one
// shared state: the task and message queues, the result store, the event
// table, and the event subscriptions. The state is created by the first
// Open and torn down when the last view is closed.
//
//	reg := memory.NewRegistry()
//	producer := reg.Open("orders")
//	consumer := reg.Open("orders", memory.WithPoolSize(4))
//
// Each view bounds its own handlers with a weighted semaphore of pool size,
// shared by its task and message loops. Wake-ups use broadcast channels
// that are closed and replaced on every change, so no loop polls.
package memory
