package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"pylos/internal/app"
	"pylos/internal/logging"
)

var (
	// ErrSessionNotFound is returned for an unknown game id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNameConflict is returned when a game with the same name exists.
	ErrNameConflict = errors.New("game with this name already exists")
	// ErrEmptyName is returned when creating a game without a name.
	ErrEmptyName = errors.New("game name must not be empty")
)

// Registry maps game ids to live sessions. Ids are assigned in creation order
// starting at zero; sessions are never evicted.
type Registry struct {
	ctx  context.Context
	opts Options

	mu       sync.RWMutex
	sessions []*Session
	names    map[string]int64
}

// NewRegistry returns an empty registry. Session actors stop when ctx is done.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	if opts.Service == nil {
		opts.Service = app.NewService(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Registry{ctx: ctx, opts: opts, names: make(map[string]int64)}
}

// Create starts a new session named name and returns its summary.
func (r *Registry) Create(name string) (Summary, error) {
	if strings.TrimSpace(name) == "" {
		return Summary{}, ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return Summary{}, ErrNameConflict
	}
	id := int64(len(r.sessions))
	s := newSession(r.ctx, id, name, r.opts)
	r.sessions = append(r.sessions, s)
	r.names[name] = id
	r.opts.Logger.Info("Create: game %d %q", id, name)
	return s.Summary(), nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id int64) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= int64(len(r.sessions)) {
		return nil, ErrSessionNotFound
	}
	return r.sessions[id], nil
}

// Search lists sessions whose name contains substr.
func (r *Registry) Search(substr string) []Summary {
	return r.collect(func(s Summary) bool { return strings.Contains(s.Name, substr) })
}

// List returns every session in id order.
func (r *Registry) List() []Summary {
	return r.collect(func(Summary) bool { return true })
}

func (r *Registry) collect(keep func(Summary) bool) []Summary {
	r.mu.RLock()
	sessions := append([]*Session(nil), r.sessions...)
	r.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		if sum := s.Summary(); keep(sum) {
			out = append(out, sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
