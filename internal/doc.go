// Package internal contains the implementation packages for loom.
//
// # Package Organization
//
// A template moves through the packages in pipeline order:
//
//   - instruction: splits template text into the instruction head and body
//   - compiler: turns the body into Go statements that build the output
//   - unit: assembles and binds the render function with yaegi
//   - resolver: loads and caches imported templates, concurrently
//   - host: owns one mounted template and its readiness state machine
//   - reconcile: diffs each render against the live subject and emits records
//   - renderer: ties a host, a document and a reconcile manager together
//
// Supporting packages:
//
//   - invoke: keyed registry of closures called from event handlers
//   - notify: event bus and observable models that trigger re-renders
//   - dom: the mutex-guarded document the records are applied to
//   - server: HTTP page, websocket updates and cross-process relay
//   - config, logging, errors, validation, version, watcher
//
// # Concurrency
//
// Renders are scheduled, not run inline. A host coalesces reentrant render
// requests to the latest one, and the document serialises writers behind a
// RWMutex so the server can render pages while updates are applied.
package internal
