// Package aisen provides lightweight, pluggable error and crash capture.
//
// aisen turns raw failure signals (panics, rejected promises, failures inside
// asynchronous callbacks) into canonical, comparable Events and hands them to
// a pluggable Sink, optionally linked to cxdb conversation context.
//
// # Core Components
//
// The library is organized around these concepts:
//
//   - Event: The canonical record with exception, frames, fingerprint and extra payload
//   - Event builders: EventFromUnknownInput, EventFromStackTrace, EventFromPlainObject
//   - Collector: Runs the event processor chain, scrubs and writes accepted events
//   - EventProcessor: A step in the chain; dedupe.Filter drops immediate repeats
//   - Sink: Destination for events (cxdb, stderr, async, multi, noop, spool)
//   - Scrubber: Redacts sensitive data with fail-closed behavior
//
// The instrument package installs capture handlers on a host.Realm, the
// single-threaded event loop that runs instrumented code.
//
// # Quick Start
//
//	collector := aisen.NewCollector(
//	    aisen.WithSink(stderr.NewStderrSink()),
//	    aisen.WithEventProcessor(dedupe.New()),
//	    aisen.WithDefaultScrubbing(),
//	)
//	realm := host.NewRealm()
//	instrument.NewGlobalHandlers(realm, collector).Setup()
//
// For standalone usage:
//
//	defer aisen.Recover(ctx, collector)
//
// # Design Principles
//
//   - Capture never disturbs the host: pipeline faults are recovered and logged
//   - Genuine failures are never suppressed by pipeline faults (fail-open dedupe)
//   - Fail-closed scrubbing: on any error, fields are fully redacted
package aisen
