package rendezvous

import (
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// Servers are process-wide singletons keyed by name. Entries never expire;
// they are only removed by Stop(false).
var servers = newRegistry()

type registry struct {
	// mu makes lookup-then-create atomic so that concurrent Create calls for
	// one name can't bind twice.
	mu      sync.Mutex
	entries *gocache.Cache
}

func newRegistry() *registry {
	return &registry{entries: gocache.New(gocache.NoExpiration, 0)}
}

func (r *registry) get(name string) (*Server, bool) {
	v, ok := r.entries.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*Server), true
}

// getOrCreate returns the Server registered under name, calling create to
// build and register one if there is none.
func (r *registry) getOrCreate(name string, create func() (*Server, error)) (*Server, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.get(name); ok {
		return s, true, nil
	}

	s, err := create()
	if err != nil {
		return nil, false, err
	}
	if err := r.entries.Add(name, s, gocache.NoExpiration); err != nil {
		return nil, false, err
	}
	return s, false, nil
}

func (r *registry) remove(name string, s *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.get(name); ok && current == s {
		r.entries.Delete(name)
	}
}

// Lookup returns the Server registered under name without creating one.
func Lookup(name string) (*Server, bool) {
	return servers.get(name)
}
