package suggest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/bastiangx/omnisuggest/internal/logger"
	"github.com/bastiangx/omnisuggest/internal/metrics"
	"github.com/bastiangx/omnisuggest/internal/utils"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("suggest: provider closed")

const (
	DefaultMinQueryInterval  = 100 * time.Millisecond
	DefaultHistoryMaxResults = 12
	// maxInputRunes bounds what is sent to history and the remote server.
	maxInputRunes = 2048
)

// Options configure a Provider.
type Options struct {
	MaxMatches int
	// MinQueryInterval is the minimum time between two remote fetches. Zero disables the debounce.
	MinQueryInterval  time.Duration
	HistoryMaxResults int
	AnswerCacheSize   int
	// Now is the clock used for history scoring and debouncing.
	Now    func() time.Time
	Logger *log.Logger
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		MaxMatches:        DefaultMaxMatches,
		MinQueryInterval:  DefaultMinQueryInterval,
		HistoryMaxResults: DefaultHistoryMaxResults,
		AnswerCacheSize:   DefaultAnswerCacheSize,
	}
}

type completionSource int

const (
	sourceHistory completionSource = iota
	sourceSuggest
	sourceDispatch
)

func (s completionSource) String() string {
	switch s {
	case sourceHistory:
		return "history"
	case sourceSuggest:
		return "suggest"
	default:
		return "dispatch"
	}
}

// Completion is the result of one asynchronous step, tagged with the generation
// of the keystroke that started it.
type Completion struct {
	Generation uint64
	source     completionSource
	rows       []HistoryEntry
	body       []byte
	err        error
	elapsed    time.Duration
	requestURL string
	// fromDefault marks a fetch sent to the default engine while in keyword mode.
	fromDefault bool
}

// Source names the path that produced the completion.
func (c Completion) Source() string {
	return c.source.String()
}

// Provider drives one address-bar session. See the package documentation for
// the threading rules.
type Provider struct {
	opts      Options
	history   HistoryLookup
	transport Transport
	engines   EngineRegistry
	deleter   Deleter
	answers   *AnswerCache
	logger    *log.Logger

	gen    uint64
	qc     QueryContext
	engine Engine
	// defaultEngine is also queried in keyword mode, unless it is the keyword engine.
	defaultEngine Engine
	state         State

	historyRows []HistoryEntry
	historyDone bool
	remote      *Results
	remoteFresh bool
	remoteDone  bool
	requestURL  string

	defaultRemote     *Results
	defaultDone       bool
	defaultRequestURL string

	matches     []Suggestion
	lastDefault string
	deleted     map[string]bool

	sessionToken string
	ctx          context.Context
	cancel       context.CancelFunc
	debounce     *time.Timer
	lastDispatch time.Time

	completions chan Completion
	done        chan struct{}
	closed      bool
}

// NewProvider creates a provider. Any collaborator may be nil: a nil history or
// transport simply never contributes.
func NewProvider(opts Options, history HistoryLookup, transport Transport, engines EngineRegistry, deleter Deleter) *Provider {
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = DefaultMaxMatches
	}
	if opts.MinQueryInterval < 0 {
		opts.MinQueryInterval = 0
	}
	if opts.HistoryMaxResults <= 0 {
		opts.HistoryMaxResults = DefaultHistoryMaxResults
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := opts.Logger
	if l == nil {
		l = logger.New("suggest")
	}
	return &Provider{
		opts:        opts,
		history:     history,
		transport:   transport,
		engines:     engines,
		deleter:     deleter,
		answers:     NewAnswerCache(opts.AnswerCacheSize),
		logger:      l,
		deleted:     make(map[string]bool),
		completions: make(chan Completion, 8),
		done:        make(chan struct{}),
	}
}

// Completions delivers asynchronous results. Pass each one to Apply.
func (p *Provider) Completions() <-chan Completion {
	return p.completions
}

// State reports where the current session is.
func (p *Provider) State() State {
	return p.state
}

// Matches returns the matches of the last pass.
func (p *Provider) Matches() []Suggestion {
	return append([]Suggestion(nil), p.matches...)
}

// Generation returns the generation of the current keystroke.
func (p *Provider) Generation() uint64 {
	return p.gen
}

// Answers exposes the answer cache.
func (p *Provider) Answers() *AnswerCache {
	return p.answers
}

// Start begins a new keystroke and returns the synchronous pass. Work left over
// from the previous keystroke is cancelled and its results will be discarded.
func (p *Provider) Start(ctx context.Context, in Input) Update {
	if p.closed {
		return Update{State: Idle, Done: true}
	}
	if p.state == AwaitingResponses {
		p.logger.Debugf("Generation %d superseded before its responses arrived", p.gen)
	}
	p.abort()
	p.gen++

	engine, keywordMode := p.resolveEngine(in.Keyword)
	p.engine = engine
	p.defaultEngine = nil
	if keywordMode {
		if d := p.engines.DefaultEngine(); d != nil && d.Keyword() != engine.Keyword() {
			p.defaultEngine = d
		}
	}
	p.qc = NewQueryContext(p.gen, in, keywordMode, p.lastDefault)

	if p.qc.NormalizedInput == "" {
		p.resetSession()
		return Update{Generation: p.gen, Input: in.Text, State: Idle, Done: true}
	}
	if !utils.IsValidInput(p.qc.NormalizedInput, maxInputRunes) {
		// Nothing is sent to history or the server; the typed text still gets its match.
		p.logger.Debugf("Not querying sources for unusable input (%d runes)", len([]rune(p.qc.NormalizedInput)))
		p.remote, p.remoteFresh, p.defaultRemote, p.historyRows = nil, false, nil, nil
		p.historyDone, p.remoteDone, p.defaultDone = true, true, true
		p.state = ResponsesComplete
		metrics.SuggestFetches.WithLabelValues(metrics.ResultSkipped).Inc()
		return p.emit(false)
	}

	if p.sessionToken == "" {
		p.sessionToken = uuid.NewString()
	}
	p.carryOver()

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.state = AwaitingResponses

	p.historyDone = p.history == nil
	if !p.historyDone {
		go p.queryHistory(p.ctx, p.gen, p.qc.NormalizedInput)
	}

	p.remoteDone = !p.canFetch(engine)
	p.defaultDone = !p.canFetch(p.defaultEngine)
	if p.remoteDone && p.defaultDone {
		metrics.SuggestFetches.WithLabelValues(metrics.ResultSkipped).Inc()
	} else {
		p.scheduleFetch(p.ctx)
	}
	if p.complete() {
		p.state = ResponsesComplete
		p.cancelFetch()
	}

	return p.emit(false)
}

// Apply folds an asynchronous completion into the current session. The second
// return is false when the completion did not produce an update, either because
// it was stale or because it only triggered a fetch.
func (p *Provider) Apply(c Completion) (Update, bool) {
	if p.closed {
		return Update{}, false
	}
	if c.Generation != p.gen || p.state != AwaitingResponses {
		metrics.StaleCompletions.WithLabelValues(c.source.String()).Inc()
		p.logger.Debugf("Discarding stale %s completion for generation %d (current %d)", c.source, c.Generation, p.gen)
		return Update{Generation: c.Generation, State: StaleInputSuperseded, Done: true, Async: true}, false
	}

	switch c.source {
	case sourceDispatch:
		p.debounce = nil
		// The keystroke's context is reused so Stop still cancels the fetch.
		p.dispatch(p.ctx)
		return Update{}, false

	case sourceHistory:
		p.historyDone = true
		if c.err != nil {
			metrics.HistoryQueries.WithLabelValues(metrics.ResultFailed).Inc()
			p.logger.Warnf("History lookup failed: %v", c.err)
			p.historyRows = nil
		} else {
			metrics.HistoryQueries.WithLabelValues(metrics.ResultOK).Inc()
			p.historyRows = c.rows
		}

	case sourceSuggest:
		metrics.SuggestFetchDuration.Observe(c.elapsed.Seconds())
		if c.fromDefault {
			p.defaultDone = true
			p.applyDefaultResponse(c)
		} else {
			p.remoteDone = true
			p.applyResponse(c)
		}
	}

	if p.complete() {
		p.state = ResponsesComplete
		p.cancelFetch()
	}
	return p.emit(true), true
}

// Next blocks until a completion produces an update, or ctx is done.
func (p *Provider) Next(ctx context.Context) (Update, error) {
	for {
		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-p.done:
			return Update{}, ErrClosed
		case c := <-p.completions:
			if u, ok := p.Apply(c); ok {
				return u, nil
			}
		}
	}
}

// Stop ends the session: outstanding work is cancelled and anything it reports
// later is discarded. Matches from the last pass stay readable.
func (p *Provider) Stop() {
	p.abort()
	p.gen++
	p.resetSession()
}

// Close stops the provider for good and releases anything blocked in Next.
func (p *Provider) Close() {
	if p.closed {
		return
	}
	p.Stop()
	p.closed = true
	close(p.done)
}

// DeleteMatch removes m from the current matches right away and asks the server
// and the history store to forget it. The channel receives whether the server
// deletion succeeded; it is true when there was nothing to ask the server.
func (p *Provider) DeleteMatch(ctx context.Context, m Suggestion) <-chan bool {
	result := make(chan bool, 1)

	keys := []string{suggestionKey(m)}
	for _, d := range m.Duplicates {
		keys = append(keys, suggestionKey(d))
	}
	for _, k := range keys {
		p.deleted[k] = true
	}
	kept := p.matches[:0:0]
	for _, cur := range p.matches {
		if !p.deleted[suggestionKey(cur)] {
			kept = append(kept, cur)
		}
	}
	p.matches = kept

	if hd, ok := p.history.(historyDeleter); ok {
		for _, s := range append([]Suggestion{m}, m.Duplicates...) {
			if s.Kind != HistoryQuery {
				continue
			}
			if err := hd.DeleteEntry(ctx, s.Text); err != nil {
				p.logger.Warnf("Failed to delete '%s' from history: %v", s.Text, err)
			}
		}
	}

	deletionURL := p.resolveDeletionURL(m)
	if deletionURL == "" || p.deleter == nil {
		metrics.Deletions.WithLabelValues(metrics.ResultSkipped).Inc()
		result <- true
		return result
	}

	go func() {
		err := p.deleter.DeleteSuggestion(ctx, deletionURL)
		if err != nil {
			metrics.Deletions.WithLabelValues(metrics.ResultFailed).Inc()
			p.logger.Warnf("Deletion request failed: %v", err)
		} else {
			metrics.Deletions.WithLabelValues(metrics.ResultOK).Inc()
		}
		result <- err == nil
	}()
	return result
}

func (p *Provider) resolveDeletionURL(m Suggestion) string {
	raw := m.DeletionURL
	if raw == "" {
		for _, d := range m.Duplicates {
			if d.DeletionURL != "" {
				raw = d.DeletionURL
				break
			}
		}
	}
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		p.logger.Warnf("Ignoring bad deletion url %q: %v", raw, err)
		return ""
	}
	requestURL := p.requestURL
	if p.qc.IsKeywordMode && !m.FromKeywordEngine {
		requestURL = p.defaultRequestURL
	}
	if ref.IsAbs() || requestURL == "" {
		return ref.String()
	}
	base, err := url.Parse(requestURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func (p *Provider) resolveEngine(keyword string) (Engine, bool) {
	if p.engines == nil {
		return nil, false
	}
	if keyword = strings.TrimSpace(keyword); keyword != "" {
		if e := p.engines.EngineForKeyword(keyword); e != nil {
			return e, true
		}
		p.logger.Debugf("Unknown keyword '%s', using the default engine", keyword)
	}
	return p.engines.DefaultEngine(), false
}

// carryOver keeps last keystroke's remote results that still match the new input.
// They count as received before this keystroke, so they may be inline-completed.
func (p *Provider) carryOver() {
	p.remoteFresh = false
	p.remote = carryResults(p.qc, p.remote)
	if p.defaultEngine != nil {
		p.defaultRemote = carryResults(p.qc, p.defaultRemote)
	} else {
		p.defaultRemote = nil
	}

	var rows []HistoryEntry
	for _, r := range p.historyRows {
		if utils.HasPrefixIgnoreCase(utils.CollapseWhitespace(r.Text), p.qc.NormalizedInput) {
			rows = append(rows, r)
		}
	}
	p.historyRows = rows
}

// carryResults filters prev down to the entries that still extend the input.
func carryResults(qc QueryContext, prev *Results) *Results {
	if prev == nil {
		return nil
	}
	next := &Results{
		Query:                prev.Query,
		VerbatimRelevance:    prev.VerbatimRelevance,
		RelevancesFromServer: prev.RelevancesFromServer,
	}
	for _, s := range prev.Suggestions {
		// Calculator results are only valid for the input they answered.
		if s.Kind == Calculator || !stillMatches(qc, s) {
			continue
		}
		s.ReceivedAfterLastKeystroke = false
		next.Suggestions = append(next.Suggestions, s)
	}
	for _, s := range prev.Navigations {
		if !stillMatches(qc, s) {
			continue
		}
		s.ReceivedAfterLastKeystroke = false
		next.Navigations = append(next.Navigations, s)
	}
	if next.empty() {
		return nil
	}
	return next
}

func (p *Provider) queryHistory(ctx context.Context, gen uint64, prefix string) {
	rows, err := p.history.QueryMatchingHistoryEntries(ctx, prefix, p.opts.HistoryMaxResults)
	p.post(Completion{Generation: gen, source: sourceHistory, rows: rows, err: err})
}

func (p *Provider) scheduleFetch(ctx context.Context) {
	wait := time.Duration(0)
	if p.opts.MinQueryInterval > 0 && !p.lastDispatch.IsZero() {
		wait = p.opts.MinQueryInterval - p.opts.Now().Sub(p.lastDispatch)
	}
	if wait <= 0 {
		p.dispatch(ctx)
		return
	}
	gen := p.gen
	p.debounce = time.AfterFunc(wait, func() {
		p.post(Completion{Generation: gen, source: sourceDispatch})
	})
}

// dispatch sends the fetches still owed for this keystroke: one to the active
// engine and, in keyword mode, one to the default engine.
func (p *Provider) dispatch(ctx context.Context) {
	p.lastDispatch = p.opts.Now()
	if !p.remoteDone {
		req := FetchRequest{
			Query:        p.qc.NormalizedInput,
			URL:          p.engine.SuggestURL(p.qc.NormalizedInput),
			SessionToken: p.sessionToken,
		}
		if entry, ok := p.answers.Top(p.qc.NormalizedInput); ok {
			req.PrefetchQuery = entry.Query
			req.PrefetchType = entry.Answer.Type
		}
		p.fetch(ctx, req, false)
	}
	if !p.defaultDone {
		p.fetch(ctx, FetchRequest{
			Query:        p.qc.NormalizedInput,
			URL:          p.defaultEngine.SuggestURL(p.qc.NormalizedInput),
			SessionToken: p.sessionToken,
		}, true)
	}
}

func (p *Provider) fetch(ctx context.Context, req FetchRequest, fromDefault bool) {
	gen := p.gen
	go func() {
		start := time.Now()
		body, err := p.transport.FetchSuggestions(ctx, req)
		p.post(Completion{
			Generation:  gen,
			source:      sourceSuggest,
			body:        body,
			err:         err,
			elapsed:     time.Since(start),
			requestURL:  req.URL,
			fromDefault: fromDefault,
		})
	}()
}

func (p *Provider) canFetch(e Engine) bool {
	return e != nil && e.SupportsSuggestions() && p.transport != nil
}

// complete reports whether every path started for this keystroke has reported.
func (p *Provider) complete() bool {
	return p.historyDone && p.remoteDone && p.defaultDone
}

func (p *Provider) applyResponse(c Completion) {
	if c.err != nil {
		metrics.SuggestFetches.WithLabelValues(metrics.ResultFailed).Inc()
		p.logger.Warnf("Suggest fetch for '%s' failed: %v", p.qc.NormalizedInput, c.err)
		p.remote, p.remoteFresh = nil, false
		return
	}
	res, ok := ParseResponse(c.body)
	if !ok {
		metrics.SuggestFetches.WithLabelValues(metrics.ResultMalformed).Inc()
		p.logger.Warnf("Malformed suggest response for '%s' (%d bytes)", p.qc.NormalizedInput, len(c.body))
		p.remote, p.remoteFresh = nil, false
		return
	}
	metrics.SuggestFetches.WithLabelValues(metrics.ResultOK).Inc()
	for i := range res.Suggestions {
		res.Suggestions[i].ReceivedAfterLastKeystroke = true
	}
	for i := range res.Navigations {
		res.Navigations[i].ReceivedAfterLastKeystroke = true
	}
	p.remote = res
	p.remoteFresh = true
	p.requestURL = c.requestURL
	if res.FieldTrialTriggered {
		p.logger.Debugf("Field trial triggered for '%s'", p.qc.NormalizedInput)
	}
}

// applyDefaultResponse keeps the default engine's results in keyword mode. They
// never carry answers or field trials, so a failure only drops them.
func (p *Provider) applyDefaultResponse(c Completion) {
	if c.err != nil {
		metrics.SuggestFetches.WithLabelValues(metrics.ResultFailed).Inc()
		p.logger.Warnf("Default engine fetch for '%s' failed: %v", p.qc.NormalizedInput, c.err)
		p.defaultRemote = nil
		return
	}
	res, ok := ParseResponse(c.body)
	if !ok {
		metrics.SuggestFetches.WithLabelValues(metrics.ResultMalformed).Inc()
		p.logger.Warnf("Malformed default engine response for '%s' (%d bytes)", p.qc.NormalizedInput, len(c.body))
		p.defaultRemote = nil
		return
	}
	metrics.SuggestFetches.WithLabelValues(metrics.ResultOK).Inc()
	for i := range res.Suggestions {
		res.Suggestions[i].ReceivedAfterLastKeystroke = true
	}
	for i := range res.Navigations {
		res.Navigations[i].ReceivedAfterLastKeystroke = true
	}
	p.defaultRemote = res
	p.defaultRequestURL = c.requestURL
}

// cachedAnswer turns the best cached answer into a candidate while no fresh
// response is available.
func (p *Provider) cachedAnswer() []Suggestion {
	if p.remoteFresh {
		return nil
	}
	entry, ok := p.answers.Top(p.qc.NormalizedInput)
	if !ok {
		return nil
	}
	answer := entry.Answer
	answer.Query = entry.Query
	s := Suggestion{
		Kind:              SuggestQuery,
		Text:              utils.CollapseWhitespace(entry.Query),
		Relevance:         suggestRelevance,
		Answer:            &answer,
		FromKeywordEngine: p.qc.IsKeywordMode,
	}
	if p.engine != nil {
		s.Destination = p.engine.SearchURL(s.Text)
	}
	if inline, ok := inlineFor(p.qc, s.Text); ok {
		s.AllowedAsDefault, s.InlineCompletion = true, inline
	}
	return []Suggestion{s}
}

func (p *Provider) emit(async bool) Update {
	p.matches = Score(Pass{
		Context:          p.qc,
		History:          p.historyRows,
		Now:              p.opts.Now(),
		Remote:           p.remote,
		Extra:            p.cachedAnswer(),
		Engine:           p.engine,
		DefaultRemote:    p.defaultRemote,
		DefaultEngine:    p.defaultEngine,
		MaxMatches:       p.opts.MaxMatches,
		DisplayedDefault: p.lastDefault,
		Deleted:          p.deleted,
	})

	p.lastDefault = ""
	if len(p.matches) > 0 && p.matches[0].InlineCompletion != "" {
		p.lastDefault = suggestionKey(p.matches[0])
	}
	if p.remoteFresh {
		for _, m := range p.matches {
			if m.Answer != nil {
				p.answers.Update(m.Text, *m.Answer)
			}
		}
	}
	metrics.MatchesServed.Observe(float64(len(p.matches)))

	return Update{
		Generation: p.gen,
		Input:      p.qc.RawInput,
		Matches:    p.Matches(),
		State:      p.state,
		Done:       p.complete(),
		Async:      async,
	}
}

func (p *Provider) post(c Completion) {
	select {
	case p.completions <- c:
	case <-p.done:
	}
}

// abort cancels the in-flight work of the current keystroke.
func (p *Provider) abort() {
	if p.debounce != nil {
		p.debounce.Stop()
		p.debounce = nil
	}
	p.cancelFetch()
}

func (p *Provider) cancelFetch() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Provider) resetSession() {
	p.state = Idle
	p.sessionToken = ""
	p.remote = nil
	p.defaultRemote = nil
	p.remoteFresh = false
	p.historyRows = nil
	p.lastDefault = ""
	p.historyDone, p.remoteDone, p.defaultDone = true, true, true
	clear(p.deleted)
}
