// Package server exposes a QueryMesh over HTTP.
//
// GET /ws/query upgrades to a websocket. The client sends query frames and
// receives one event frame per stream message, followed by a done frame
// with the run summary. With userFeedbackEnabled set the server may send a
// feedback_request frame; the client answers with a feedback frame. A
// cancel frame cancels the active query.
//
// The JSON API lists connections and serves session transcripts.
package server
