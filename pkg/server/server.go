package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

// VisitRecorder remembers queries the user accepted.
type VisitRecorder interface {
	AddVisit(term, url string, when time.Time)
}

// frame is one decoded request, or the reason it could not be decoded.
type frame struct {
	req Request
	err error
}

type deleteResult struct {
	id string
	ok bool
}

// Server handles IPC for one provider. Only the goroutine running Start touches
// the provider.
type Server struct {
	provider *suggest.Provider
	visits   VisitRecorder
	dec      *msgpack.Decoder
	enc      *msgpack.Encoder

	currentID string
	startedAt time.Time

	deletions chan deleteResult
	done      chan struct{}
	readErr   error
}

// NewServer creates a server using stdin/stdout for IPC. visits may be nil.
func NewServer(provider *suggest.Provider, visits VisitRecorder) *Server {
	return NewServerWithIO(provider, visits, os.Stdin, os.Stdout)
}

// NewServerWithIO creates a server reading requests from r and writing
// responses to w.
func NewServerWithIO(provider *suggest.Provider, visits VisitRecorder, r io.Reader, w io.Writer) *Server {
	return &Server{
		provider:  provider,
		visits:    visits,
		dec:       msgpack.NewDecoder(r),
		enc:       msgpack.NewEncoder(w),
		deletions: make(chan deleteResult),
		done:      make(chan struct{}),
	}
}

// Start serves requests until the input ends or ctx is cancelled. The provider
// is closed on return. A clean end of input returns nil.
func (s *Server) Start(ctx context.Context) error {
	log.Debug("Starting Server.")
	defer s.provider.Close()
	defer close(s.done)

	frames := make(chan frame)
	go s.readLoop(frames)

	s.sendResponse(StatusResponse{Status: "ready"})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-frames:
			if !ok {
				return s.readErr
			}
			if f.err != nil {
				log.Errorf("Unmarshaling request: %v", f.err)
				s.sendError("", "Invalid msgpack request", 400)
				continue
			}
			s.handleRequest(ctx, f.req)

		case c := <-s.provider.Completions():
			if u, ok := s.provider.Apply(c); ok {
				s.sendMatches(s.currentID, u)
			}

		case d := <-s.deletions:
			s.sendResponse(DeleteResponse{ID: d.id, OK: d.ok})
		}
	}
}

// readLoop decodes one raw value at a time so a malformed request does not
// desync the stream.
func (s *Server) readLoop(out chan<- frame) {
	defer close(out)
	for {
		raw, err := s.dec.DecodeRaw()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Errorf("Reading from stdin: %v", err)
				s.readErr = err
			}
			return
		}
		var f frame
		f.err = msgpack.Unmarshal(raw, &f.req)
		select {
		case out <- f:
		case <-s.done:
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	switch req.Op {
	case OpStart:
		s.handleStart(ctx, req)
	case OpStop:
		s.provider.Stop()
		s.sendResponse(StatusResponse{ID: req.ID, Status: "stopped", Generation: s.provider.Generation()})
	case OpDelete:
		s.handleDelete(ctx, req)
	case OpAccept:
		s.handleAccept(req)
	case OpHealth:
		s.sendResponse(StatusResponse{
			ID:         req.ID,
			Status:     "ok",
			Generation: s.provider.Generation(),
			Stats:      s.provider.Answers().Stats(),
		})
	case "":
		s.sendError(req.ID, "Missing 'op' field", 400)
	default:
		s.sendError(req.ID, fmt.Sprintf("Unknown op: %s", req.Op), 400)
	}
}

func (s *Server) handleStart(ctx context.Context, req Request) {
	in := suggest.Input{
		Text:                      req.Text,
		Keyword:                   req.Keyword,
		PreventInlineAutocomplete: req.PreventInline,
	}
	if req.URL {
		in.Type = suggest.InputURL
	}
	s.currentID = req.ID
	s.startedAt = time.Now()
	u := s.provider.Start(ctx, in)
	s.sendMatches(req.ID, u)
}

func (s *Server) handleDelete(ctx context.Context, req Request) {
	m, ok := s.matchAt(req)
	if !ok {
		return
	}
	result := s.provider.DeleteMatch(ctx, m)
	s.sendMatches(req.ID, s.currentUpdate())

	go func() {
		ok := <-result
		select {
		case s.deletions <- deleteResult{id: req.ID, ok: ok}:
		case <-s.done:
		}
	}()
}

func (s *Server) handleAccept(req Request) {
	m, ok := s.matchAt(req)
	if !ok {
		return
	}
	if s.visits != nil && m.Kind.IsQuery() {
		s.visits.AddVisit(m.Text, "", time.Now())
	}
	s.provider.Stop()
	s.sendResponse(StatusResponse{ID: req.ID, Status: "accepted", Generation: s.provider.Generation()})
}

func (s *Server) matchAt(req Request) (suggest.Suggestion, bool) {
	matches := s.provider.Matches()
	if req.Index < 0 || req.Index >= len(matches) {
		s.sendError(req.ID, fmt.Sprintf("Match index %d out of range (%d matches)", req.Index, len(matches)), 400)
		return suggest.Suggestion{}, false
	}
	return matches[req.Index], true
}

func (s *Server) currentUpdate() suggest.Update {
	state := s.provider.State()
	return suggest.Update{
		Generation: s.provider.Generation(),
		Matches:    s.provider.Matches(),
		State:      state,
		Done:       state != suggest.AwaitingResponses,
		Async:      true,
	}
}

func (s *Server) sendMatches(id string, u suggest.Update) {
	matches := make([]Match, len(u.Matches))
	for i, m := range u.Matches {
		matches[i] = toMatch(m)
	}
	var elapsed int64
	if !s.startedAt.IsZero() {
		elapsed = time.Since(s.startedAt).Microseconds()
	}
	s.sendResponse(MatchesResponse{
		ID:         id,
		Generation: u.Generation,
		Matches:    matches,
		Count:      len(matches),
		State:      u.State.String(),
		Done:       u.Done,
		Async:      u.Async,
		TimeTaken:  elapsed,
	})
}

func toMatch(m suggest.Suggestion) Match {
	out := Match{
		Text:        m.Text,
		Kind:        m.Kind.String(),
		Relevance:   m.Relevance,
		Destination: m.Destination,
		Default:     m.AllowedAsDefault,
		Inline:      m.InlineCompletion,
		Description: m.Description,
		Annotation:  m.Annotation,
		Deletable:   m.DeletionURL != "" || m.Kind == suggest.HistoryQuery,
	}
	if m.Answer != nil {
		out.Answer = m.Answer.Text
	}
	return out
}

// sendResponse encodes the response onto the output stream.
func (s *Server) sendResponse(response any) {
	if err := s.enc.Encode(response); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(id, message string, code int) {
	s.sendResponse(CompletionError{
		ID:    id,
		Error: message,
		Code:  code,
	})
}
