package publisher

import (
	"sync"
	"time"

	"github.com/buenedata/plugin-update-server/pkg/release"
)

// Registry is the host's update registry (the update_plugins transient). Only the
// Publisher writes to it.
type Registry interface {
	SetUpdate(installed string, offer *release.UpdateOffer)
	SetNoUpdate(installed string, offer *release.UpdateOffer)
	Remove(basename string)
	Snapshot() *release.UpdateTransient
}

type MemoryRegistry struct {
	mu          sync.RWMutex
	now         func() time.Time
	lastChecked time.Time
	checked     map[string]string
	response    map[string]*release.UpdateOffer
	noUpdate    map[string]*release.UpdateOffer
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		now:      time.Now,
		checked:  make(map[string]string),
		response: make(map[string]*release.UpdateOffer),
		noUpdate: make(map[string]*release.UpdateOffer),
	}
}

func (r *MemoryRegistry) SetUpdate(installed string, offer *release.UpdateOffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastChecked = r.now()
	r.checked[offer.Plugin] = installed
	r.response[offer.Plugin] = offer
	delete(r.noUpdate, offer.Plugin)
}

func (r *MemoryRegistry) SetNoUpdate(installed string, offer *release.UpdateOffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastChecked = r.now()
	r.checked[offer.Plugin] = installed
	r.noUpdate[offer.Plugin] = offer
	delete(r.response, offer.Plugin)
}

func (r *MemoryRegistry) Remove(basename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checked, basename)
	delete(r.response, basename)
	delete(r.noUpdate, basename)
}

func (r *MemoryRegistry) Snapshot() *release.UpdateTransient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := &release.UpdateTransient{
		LastChecked: r.lastChecked,
		Checked:     make(map[string]string, len(r.checked)),
		Response:    make(map[string]*release.UpdateOffer, len(r.response)),
		NoUpdate:    make(map[string]*release.UpdateOffer, len(r.noUpdate)),
	}
	for k, v := range r.checked {
		t.Checked[k] = v
	}
	for k, v := range r.response {
		o := *v
		t.Response[k] = &o
	}
	for k, v := range r.noUpdate {
		o := *v
		t.NoUpdate[k] = &o
	}
	return t
}
