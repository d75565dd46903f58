// Package session keeps chat transcripts. A transcript is a list of turns,
// each holding the question and the stream events of the run that answered
// it. The store plugs into a run as a core.StreamCallback (see Callback),
// usually next to the client callback via sink.Tee.
package session
