// Package processhost implements the Process Host (spec.md §4.E): one
// PTY-spawned child per agent, exposing gated Write/Resize/Kill operations,
// output fan-out, and exit reporting.
//
// The PTY lifecycle (creack/pty spawn, background reader loop accumulating
// into a buffer, Close/Wait bookkeeping with sync.Once) is adapted from the
// teacher's pkg/embedded/containerd.go process-spawning shape and
// joeycumines-go-utilpkg's termtest Console reader loop, generalized from a
// one-shot test harness to a long-lived, state-gated supervised process.
package processhost
