package platform

import (
	"fmt"
	"sync"
)

// MediaHandle is exclusive ownership of an acquired stream. Ownership moves
// with Transfer; the previous handle becomes inert so that releasing it does
// not stop tracks the new owner is still using.
type MediaHandle struct {
	mu          sync.Mutex
	stream      Stream
	owner       string
	transferred bool
	released    bool
}

func NewMediaHandle(stream Stream, owner string) *MediaHandle {
	return &MediaHandle{stream: stream, owner: owner}
}

func (h *MediaHandle) Stream() Stream {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transferred || h.released {
		return nil
	}
	return h.stream
}

func (h *MediaHandle) Owner() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

func (h *MediaHandle) Live() bool {
	s := h.Stream()
	return s != nil && StreamLive(s)
}

func (h *MediaHandle) Transfer(newOwner string) (*MediaHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transferred || h.released {
		return nil, fmt.Errorf("media handle owned by %s is no longer valid", h.owner)
	}
	h.transferred = true
	return &MediaHandle{stream: h.stream, owner: newOwner}, nil
}

// Release stops every track unless ownership has been transferred away.
func (h *MediaHandle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transferred || h.released {
		return
	}
	h.released = true
	StopTracks(h.stream)
}
