// Package alert implements the Alert Engine (spec.md §4.C): a set of
// strategies each producing zero or more alerts from a resource sample, an
// activation map keyed by (agent, kind, severity), hysteresis-based
// resolution, and a bounded history of every alert ever raised.
//
// The sorted-strategies-run-every-cycle shape is adapted from the teacher's
// scheduler loop (pkg/scheduler/scheduler.go), generalized from "score nodes
// for placement" to "score a sample against threshold strategies".
package alert
