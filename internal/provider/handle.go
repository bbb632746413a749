package provider

import (
	"fmt"
	"sync/atomic"
)

type bound struct {
	instance any
	version  uint64
}

// Handle is a swappable reference to the active instance of one provider.
// Readers always observe a fully constructed instance; a swap never affects
// calls already holding the previous one.
type Handle struct {
	desc Descriptor
	cur  atomic.Pointer[bound]
}

func newHandle(desc Descriptor, instance any) *Handle {
	h := &Handle{desc: desc}
	h.cur.Store(&bound{instance: instance, version: 1})
	return h
}

// Descriptor returns the registration record behind the handle.
func (h *Handle) Descriptor() Descriptor { return h.desc }

// Load returns the current instance and its version.
func (h *Handle) Load() (any, uint64) {
	b := h.cur.Load()
	return b.instance, b.version
}

// Version returns the number of instances installed so far.
func (h *Handle) Version() uint64 { return h.cur.Load().version }

// Swap installs instance and returns the one it replaced.
func (h *Handle) Swap(instance any) any {
	for {
		old := h.cur.Load()
		next := &bound{instance: instance, version: old.version + 1}
		if h.cur.CompareAndSwap(old, next) {
			return old.instance
		}
	}
}

// Embedder returns the current instance as an Embedder.
func (h *Handle) Embedder() (Embedder, error) {
	inst, _ := h.Load()
	e, ok := inst.(Embedder)
	if !ok {
		return nil, fmt.Errorf("provider %s does not implement Embedder", h.desc.ID())
	}
	return e, nil
}

// VectorStore returns the current instance as a VectorStore.
func (h *Handle) VectorStore() (VectorStore, error) {
	inst, _ := h.Load()
	s, ok := inst.(VectorStore)
	if !ok {
		return nil, fmt.Errorf("provider %s does not implement VectorStore", h.desc.ID())
	}
	return s, nil
}
