package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bastiangx/omnisuggest/pkg/engines"
	"github.com/bastiangx/omnisuggest/pkg/history"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
	"github.com/bastiangx/omnisuggest/pkg/transport"
)

// reply is the union of every response the server sends.
type reply struct {
	ID         string  `msgpack:"id"`
	Status     string  `msgpack:"status"`
	Generation uint64  `msgpack:"g"`
	Matches    []Match `msgpack:"s"`
	C          int     `msgpack:"c"`
	State      string  `msgpack:"st"`
	Done       bool    `msgpack:"done"`
	Async      bool    `msgpack:"a"`
	OK         bool    `msgpack:"ok"`
	Error      string  `msgpack:"e"`

	Stats map[string]int `msgpack:"stats"`
}

func (r reply) texts() []string {
	out := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Text
	}
	return out
}

func (r reply) indexOf(text string) int {
	for i, m := range r.Matches {
		if m.Text == text {
			return i
		}
	}
	return -1
}

type harness struct {
	t       *testing.T
	enc     *msgpack.Encoder
	dec     *msgpack.Decoder
	in      *io.PipeWriter
	cancel  context.CancelFunc
	errc    chan error
	history *history.Store
}

func suggestServer(t *testing.T) *httptest.Server {
	t.Helper()
	words := []string{"weather", "wear", "weave"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		var out []string
		for _, word := range words {
			if strings.HasPrefix(word, q) {
				out = append(out, word)
			}
		}
		json.NewEncoder(w).Encode([]any{q, out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := suggestServer(t)

	registry := engines.NewRegistry()
	e, err := registry.Add(engines.TemplateURLData{
		ShortName:  "Test",
		Keyword:    "test",
		SearchURL:  srv.URL + "/search?q={searchTerms}",
		SuggestURL: srv.URL + "/complete?q={searchTerms}",
	})
	require.NoError(t, err)
	require.NoError(t, registry.SetDefault(e.ID()))

	store := history.NewStore(0)
	store.AddVisit("weather", "", time.Now().Add(-time.Hour))

	provider := suggest.NewProvider(suggest.Options{
		MaxMatches: 8,
		Logger:     log.New(io.Discard),
	}, store, transport.NewClient(transport.Options{}), registry, nil)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:       t,
		enc:     msgpack.NewEncoder(inW),
		dec:     msgpack.NewDecoder(outR),
		in:      inW,
		cancel:  cancel,
		errc:    make(chan error, 1),
		history: store,
	}
	go func() {
		h.errc <- NewServerWithIO(provider, store, inR, outW).Start(ctx)
	}()
	t.Cleanup(func() {
		inW.Close()
		outR.Close()
		cancel()
		select {
		case <-h.errc:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	ready := h.next()
	require.Equal(t, "ready", ready.Status)
	return h
}

func (h *harness) send(req any) {
	h.t.Helper()
	require.NoError(h.t, h.enc.Encode(req))
}

func (h *harness) next() reply {
	h.t.Helper()
	ch := make(chan reply, 1)
	errc := make(chan error, 1)
	go func() {
		var r reply
		if err := h.dec.Decode(&r); err != nil {
			errc <- err
			return
		}
		ch <- r
	}()
	select {
	case r := <-ch:
		return r
	case err := <-errc:
		h.t.Fatalf("decoding reply: %v", err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for a reply")
	}
	return reply{}
}

// untilDone reads replies for id until one is done and returns it.
func (h *harness) untilDone(id string) reply {
	h.t.Helper()
	for {
		r := h.next()
		if r.ID == id && r.Done {
			return r
		}
	}
}

func TestStartStreamsUpdates(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "wea"})

	first := h.next()
	assert.Equal(t, "k1", first.ID)
	assert.False(t, first.Async)
	assert.False(t, first.Done)
	assert.Equal(t, "awaiting", first.State)
	assert.Contains(t, first.texts(), "wea")

	final := first
	for !final.Done {
		final = h.next()
		assert.Equal(t, "k1", final.ID)
		assert.True(t, final.Async)
	}
	assert.Equal(t, "complete", final.State)
	assert.ElementsMatch(t, []string{"wea", "weather", "wear", "weave"}, final.texts())
	assert.Equal(t, len(final.Matches), final.C)
	assert.True(t, final.Matches[0].Default)
	for _, m := range final.Matches[1:] {
		assert.Empty(t, m.Inline)
	}
}

func TestNewKeystrokeSupersedesOldOne(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "we"})
	h.send(Request{ID: "k2", Op: OpStart, Text: "wea"})

	seenK2 := false
	for {
		r := h.next()
		if r.ID == "k2" {
			seenK2 = true
			if r.Done {
				assert.NotContains(t, r.texts(), "we")
				break
			}
			continue
		}
		assert.False(t, seenK2, "reply for k1 after k2 started")
	}
}

func TestDeleteMatch(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "wea"})
	final := h.untilDone("k1")

	i := final.indexOf("wear")
	require.GreaterOrEqual(t, i, 0)
	h.send(Request{ID: "d1", Op: OpDelete, Index: i})

	after := h.next()
	assert.Equal(t, "d1", after.ID)
	assert.NotContains(t, after.texts(), "wear")
	assert.Len(t, after.Matches, len(final.Matches)-1)

	result := h.next()
	assert.Equal(t, "d1", result.ID)
	assert.True(t, result.OK)

	// The deleted match stays gone when the same query is typed again.
	h.send(Request{ID: "k2", Op: OpStart, Text: "wea"})
	assert.NotContains(t, h.untilDone("k2").texts(), "wear")
}

func TestDeleteHistoryMatch(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "wea"})
	final := h.untilDone("k1")

	i := final.indexOf("weather")
	require.GreaterOrEqual(t, i, 0)
	assert.True(t, final.Matches[i].Deletable)

	h.send(Request{ID: "d1", Op: OpDelete, Index: i})
	h.next()
	assert.True(t, h.next().OK)
	assert.Equal(t, 0, h.history.Len())
}

func TestAcceptRecordsVisit(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "wea"})
	final := h.untilDone("k1")

	i := final.indexOf("wear")
	require.GreaterOrEqual(t, i, 0)
	h.send(Request{ID: "a1", Op: OpAccept, Index: i})

	r := h.next()
	assert.Equal(t, "a1", r.ID)
	assert.Equal(t, "accepted", r.Status)
	assert.Equal(t, 2, h.history.Len())
}

func TestErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  any
		id   string
	}{
		{"unknown op", Request{ID: "e1", Op: "explode"}, "e1"},
		{"missing op", Request{ID: "e2"}, "e2"},
		{"delete without matches", Request{ID: "e3", Op: OpDelete, Index: 0}, "e3"},
		{"accept out of range", Request{ID: "e4", Op: OpAccept, Index: -1}, "e4"},
		{"not a map", "hello", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h.send(tt.req)
			r := h.next()
			assert.Equal(t, tt.id, r.ID)
			assert.NotEmpty(t, r.Error)
			assert.Equal(t, 400, r.C)
		})
	}

	h.send(Request{ID: "h1", Op: OpHealth})
	r := h.next()
	assert.Equal(t, "ok", r.Status)
	assert.Empty(t, r.Error)
	assert.Contains(t, r.Stats, "answerCacheEntries")
	assert.Equal(t, suggest.DefaultAnswerCacheSize, r.Stats["maxAnswerEntries"])
}

func TestStopAndEndOfInput(t *testing.T) {
	h := newHarness(t)
	h.send(Request{ID: "k1", Op: OpStart, Text: "wea"})
	h.next()
	h.send(Request{ID: "s1", Op: OpStop})

	// Async replies for k1 may still be in flight before the stop is read.
	for {
		r := h.next()
		if r.ID == "s1" {
			assert.Equal(t, "stopped", r.Status)
			break
		}
	}

	h.in.Close()
	select {
	case err := <-h.errc:
		assert.NoError(t, err)
		h.errc <- err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop at end of input")
	}
}

func TestContextCancelStopsServer(t *testing.T) {
	h := newHarness(t)
	h.cancel()
	select {
	case err := <-h.errc:
		assert.ErrorIs(t, err, context.Canceled)
		h.errc <- err
	case <-time.After(2 * time.Second):
		t.Fatal("server ignored cancellation")
	}
}
