// Package async provides the concurrency primitives used by billing batches.
//
// RunIsolated is the isolate-and-continue loop behind every cross-tenant pass
// (snapshot capture, invoice generation, usage alerts). Each item runs with
// panic recovery and an optional timeout; failures are collected into a
// BatchResult instead of aborting the batch.
//
// SafeGo fires a best-effort background task, such as a notification, with
// panic recovery and a timeout.
package async
