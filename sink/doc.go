// Package sink provides core.StreamCallback implementations and combinators
// for fanning the events of a run out to more than one consumer: Tee,
// JSONLines for files and terminals, and NATSPublisher for other processes.
package sink
