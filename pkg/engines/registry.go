package engines

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

var (
	// ErrKeywordConflict is returned when an engine loses its keyword to one
	// that is already registered.
	ErrKeywordConflict = errors.New("engines: keyword conflict")
	// ErrUnknownEngine is returned for ids or keywords that are not registered.
	ErrUnknownEngine = errors.New("engines: unknown engine")
	// ErrRemoveDefault is returned when removing the default engine.
	ErrRemoveDefault = errors.New("engines: cannot remove the default engine")
)

// Registry holds the known engines and the default one. It is safe for
// concurrent use.
//
// Observers are notified after every change. Notifications never nest: a change
// made while observers run, including by an observer itself, is folded into one
// more round once the current round finishes.
type Registry struct {
	mu        sync.Mutex
	engines   []*TemplateURL
	defaultID int64
	nextID    int64
	now       func() time.Time

	observers    map[int]func()
	nextObserver int
	notifying    bool
	pending      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		now:       time.Now,
		observers: make(map[int]func()),
	}
}

// Add registers an engine. When another engine shares its keyword the better
// of the two owns the keyword: user-added engines beat auto-replaceable ones,
// prepopulated beat other auto-replaceable ones, then the most recently
// modified wins. An auto-replaceable engine that would lose is rejected with
// ErrKeywordConflict, unless it is prepopulated. Auto-replaceable engines that
// lose to the new one are removed, except prepopulated engines and the default.
func (r *Registry) Add(data TemplateURLData) (*TemplateURL, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if data.LastModified.IsZero() {
		data.LastModified = r.now()
	}
	r.nextID++
	t := newTemplateURL(data, r.nextID)

	if best := r.bestLocked(t.Keyword()); best != nil && t.SafeForAutoReplace() &&
		!t.IsPrepopulated() && better(best, t) {
		r.mu.Unlock()
		log.Debugf("Engine '%s' rejected: keyword owned by '%s'", t.ShortName(), best.ShortName())
		return nil, fmt.Errorf("%w: %q is owned by %q", ErrKeywordConflict, t.Keyword(), best.ShortName())
	}

	r.engines = slices.DeleteFunc(r.engines, func(e *TemplateURL) bool {
		replaced := e.Keyword() == t.Keyword() && e.SafeForAutoReplace() &&
			!e.IsPrepopulated() && e.id != r.defaultID && better(t, e)
		if replaced {
			log.Debugf("Engine '%s' replaced by '%s'", e.ShortName(), t.ShortName())
		}
		return replaced
	})
	r.engines = append(r.engines, t)
	r.mu.Unlock()

	r.changed()
	return t, nil
}

// Remove unregisters the engine with the given id.
func (r *Registry) Remove(id int64) error {
	r.mu.Lock()
	i := r.indexLocked(id)
	if i < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrUnknownEngine, id)
	}
	if id == r.defaultID {
		r.mu.Unlock()
		return ErrRemoveDefault
	}
	r.engines = slices.Delete(r.engines, i, i+1)
	r.mu.Unlock()

	r.changed()
	return nil
}

// SetDefault makes the engine with the given id the default.
func (r *Registry) SetDefault(id int64) error {
	r.mu.Lock()
	if r.indexLocked(id) < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: id %d", ErrUnknownEngine, id)
	}
	if r.defaultID == id {
		r.mu.Unlock()
		return nil
	}
	r.defaultID = id
	r.mu.Unlock()

	r.changed()
	return nil
}

// SetDefaultKeyword makes the engine owning keyword the default.
func (r *Registry) SetDefaultKeyword(keyword string) error {
	t := r.ByKeyword(keyword)
	if t == nil {
		return fmt.Errorf("%w: keyword %q", ErrUnknownEngine, keyword)
	}
	return r.SetDefault(t.ID())
}

// Default returns the default engine, or nil.
func (r *Registry) Default() *TemplateURL {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.defaultID); i >= 0 {
		return r.engines[i]
	}
	return nil
}

// ByKeyword returns the engine owning keyword, or nil.
func (r *Registry) ByKeyword(keyword string) *TemplateURL {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestLocked(normalizeKeyword(keyword))
}

// Get returns the engine with the given id, or nil.
func (r *Registry) Get(id int64) *TemplateURL {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.engines[i]
	}
	return nil
}

// All returns the registered engines in the order they were added.
func (r *Registry) All() []*TemplateURL {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.engines)
}

// DefaultEngine implements suggest.EngineRegistry.
func (r *Registry) DefaultEngine() suggest.Engine {
	if t := r.Default(); t != nil {
		return t
	}
	return nil
}

// EngineForKeyword implements suggest.EngineRegistry.
func (r *Registry) EngineForKeyword(keyword string) suggest.Engine {
	if t := r.ByKeyword(keyword); t != nil {
		return t
	}
	return nil
}

// AddObserver registers fn to run after every change and returns a function
// that unregisters it.
func (r *Registry) AddObserver(fn func()) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.observers, id)
	}
}

// changed runs the observers unless a round is already in progress, in which
// case the round is repeated once it finishes.
func (r *Registry) changed() {
	r.mu.Lock()
	if r.notifying {
		r.pending = true
		r.mu.Unlock()
		return
	}
	r.notifying = true
	for {
		r.pending = false
		ids := make([]int, 0, len(r.observers))
		for id := range r.observers {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		fns := make([]func(), 0, len(ids))
		for _, id := range ids {
			fns = append(fns, r.observers[id])
		}
		r.mu.Unlock()

		for _, fn := range fns {
			fn()
		}

		r.mu.Lock()
		if !r.pending {
			break
		}
	}
	r.notifying = false
	r.mu.Unlock()
}

func (r *Registry) indexLocked(id int64) int {
	if id == 0 {
		return -1
	}
	return slices.IndexFunc(r.engines, func(e *TemplateURL) bool { return e.id == id })
}

func (r *Registry) bestLocked(keyword string) *TemplateURL {
	var best *TemplateURL
	for _, e := range r.engines {
		if e.Keyword() == keyword && (best == nil || better(e, best)) {
			best = e
		}
	}
	return best
}

// better reports whether a should own a keyword shared with b.
func better(a, b *TemplateURL) bool {
	if a.SafeForAutoReplace() != b.SafeForAutoReplace() {
		return !a.SafeForAutoReplace()
	}
	if a.IsPrepopulated() != b.IsPrepopulated() {
		return a.IsPrepopulated()
	}
	if !a.data.LastModified.Equal(b.data.LastModified) {
		return a.data.LastModified.After(b.data.LastModified)
	}
	return a.id > b.id
}
