// Package collector implements the stream collector, the sink agent that
// turns the stream topic of a run into an ordered sequence of callback
// invocations.
//
// Buffer policy: the collector holds at most Config.MaxBuffered messages.
// When a slow callback lets the buffer fill up, the collector's own handler
// blocks until the flusher frees capacity. Only the collector's mailbox backs
// up; pipeline agents keep publishing because mailboxes are unbounded.
//
// Terminal detection: the first message with IsFinal set closes the channel
// returned by Final. Any later terminal message is relayed with IsFinal
// cleared, so a client observes at most one terminal event per run.
package collector
