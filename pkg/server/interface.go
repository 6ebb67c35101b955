/*
Package server implements msgpack IPC for the suggestion provider.

Clients write msgpack requests to stdin and read msgpack responses from stdout.
One goroutine owns the provider: it handles requests and asynchronous
completions in the order they arrive, so a response always reflects every
request before it.

# IPC

Every request carries an ID and an op. A keystroke starts a new query:

	{"id": "k1", "op": "start", "p": "wea"}

The server answers right away with what it already knows, then sends one more
response each time the history lookup or the remote fetch reports back. All of
them carry the ID of the start request:

	{"id": "k1", "g": 3, "s": [{"w": "weather", "k": "history", "r": 1398, "d": true, "ic": "ther"}], "c": 1, "st": "awaiting", "a": false, "t": 212}
	{"id": "k1", "g": 3, "s": [...], "c": 5, "st": "complete", "done": true, "a": true, "t": 81034}

"t" is the time in microseconds since the start request was received.

Other ops:

	{"id": "x1", "op": "stop"}                 end the session
	{"id": "x2", "op": "delete", "i": 2}       forget the third match
	{"id": "x3", "op": "accept", "i": 0}       record that the first match was used
	{"id": "x4", "op": "health"}             status plus answer cache stats

A delete is answered twice: once with the matches left after the removal, and
once with a DeleteResponse when the server-side deletion has finished.

Failures are answered with a CompletionError.
*/
package server

// Ops understood by the server.
const (
	OpStart  = "start"
	OpStop   = "stop"
	OpDelete = "delete"
	OpAccept = "accept"
	OpHealth = "health"
)

// Request is a single client message. Fields not used by an op are ignored.
type Request struct {
	ID            string `msgpack:"id"`
	Op            string `msgpack:"op"`
	Text          string `msgpack:"p,omitempty"`
	Keyword       string `msgpack:"k,omitempty"`
	PreventInline bool   `msgpack:"n,omitempty"`
	// URL is set when the user is typing something that looks like an address.
	URL   bool `msgpack:"url,omitempty"`
	Index int  `msgpack:"i,omitempty"`
}

// Match is one suggestion as sent to the client.
type Match struct {
	Text        string `msgpack:"w"`
	Kind        string `msgpack:"k"`
	Relevance   int    `msgpack:"r"`
	Destination string `msgpack:"u,omitempty"`
	Default     bool   `msgpack:"d,omitempty"`
	Inline      string `msgpack:"ic,omitempty"`
	Description string `msgpack:"desc,omitempty"`
	Annotation  string `msgpack:"an,omitempty"`
	Answer      string `msgpack:"ans,omitempty"`
	Deletable   bool   `msgpack:"x,omitempty"`
}

// MatchesResponse is sent after every scoring pass.
type MatchesResponse struct {
	ID         string  `msgpack:"id"`
	Generation uint64  `msgpack:"g"`
	Matches    []Match `msgpack:"s"`
	Count      int     `msgpack:"c"`
	State      string  `msgpack:"st"`
	Done       bool    `msgpack:"done,omitempty"`
	Async      bool    `msgpack:"a"`
	TimeTaken  int64   `msgpack:"t"`
}

// StatusResponse answers health, stop and accept, and announces readiness.
// Health replies also carry the answer cache stats.
type StatusResponse struct {
	ID         string         `msgpack:"id"`
	Status     string         `msgpack:"status"`
	Generation uint64         `msgpack:"g,omitempty"`
	Stats      map[string]int `msgpack:"stats,omitempty"`
}

// DeleteResponse reports whether the server-side deletion of a match succeeded.
type DeleteResponse struct {
	ID string `msgpack:"id"`
	OK bool   `msgpack:"ok"`
}

// CompletionError holds basic error information for a failed request
type CompletionError struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
