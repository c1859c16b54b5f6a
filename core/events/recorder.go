package events

import (
	"sync"

	"omen/core/types"
)

// payloader is implemented by events that carry a full typed payload in
// addition to their type string.
type payloader interface {
	Event() *types.Event
}

const defaultRecorderCap = 1024

// Recorder retains a bounded backlog of emitted events and fans them out to
// live subscribers. It backs the websocket read boundary so indexers can
// replay recent settlement activity before streaming.
type Recorder struct {
	mu      sync.Mutex
	backlog []*types.Event
	cap     int
	subs    map[chan *types.Event]struct{}
}

// NewRecorder constructs a recorder with the default backlog capacity.
func NewRecorder() *Recorder {
	return &Recorder{cap: defaultRecorderCap, subs: make(map[chan *types.Event]struct{})}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if p, ok := evt.(payloader); ok {
		if typed := p.Event(); typed != nil {
			payload = typed.Clone()
		}
	}
	r.mu.Lock()
	r.backlog = append(r.backlog, payload)
	if len(r.backlog) > r.cap {
		r.backlog = r.backlog[len(r.backlog)-r.cap:]
	}
	for ch := range r.subs {
		select {
		case ch <- payload.Clone():
		default:
			// Slow subscriber: drop rather than block settlement.
		}
	}
	r.mu.Unlock()
}

// Backlog returns a copy of the retained events in emission order.
func (r *Recorder) Backlog() []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, 0, len(r.backlog))
	for _, evt := range r.backlog {
		out = append(out, evt.Clone())
	}
	return out
}

// Subscribe registers a live event channel and returns it alongside a cancel
// function. The channel is closed on cancel.
func (r *Recorder) Subscribe() (<-chan *types.Event, func()) {
	ch := make(chan *types.Event, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}
