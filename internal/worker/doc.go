// Package worker drives the service-worker lifecycle around the cache proxy.
//
// A Runtime owns a handler Registry keyed by event kind and walks the
// parsed → installing → installed → activating → activated state machine.
// Every event is dispatched synchronously: the caller waits until the handler
// has settled, which is how the host honours waitUntil/respondWith semantics.
// Handler panics are recovered and logged as worker errors; returned errors
// are logged as unhandled rejections and handed back to the host.
package worker
