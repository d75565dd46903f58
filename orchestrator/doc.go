// Package orchestrator drives a single query through a pipeline of agents.
//
// Every call to ProcessQuery creates a fresh runtime, a stream collector and
// a cancellation token, lets the Pipeline register its stages, publishes the
// seed message and waits for the bus to become idle. The run moves through
// the core.RunState machine:
//
//	created -> configured -> running -> idle | cancelled | failed -> closed
//
// Whatever happens, the callback receives exactly one terminal message. When
// no stage produced one (setup failure, timeout, cancellation or a pipeline
// that went idle early) the orchestrator synthesizes an error terminal after
// the collector has been flushed.
//
// Handler failures are reported on the stream as error events. With
// Config.TerminalOnHandlerError set (the default) such an event ends the run.
package orchestrator
