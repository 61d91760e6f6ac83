package dedup

import (
	"context"
	"sync"

	"github.com/tokligence/chatrelay/internal/chat"
)

// tee records the events of one upstream stream and replays them to any number of
// subscribers in push order.
type tee struct {
	mu      sync.Mutex
	events  []chat.StreamEvent
	done    bool
	changed chan struct{}
}

func newTee() *tee {
	return &tee{changed: make(chan struct{})}
}

func (t *tee) pump(ctx context.Context, events <-chan chat.StreamEvent) {
	defer t.finish()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			t.append(e)
			if e.IsTerminal() {
				return
			}
		}
	}
}

func (t *tee) append(e chat.StreamEvent) {
	t.mu.Lock()
	t.events = append(t.events, e)
	close(t.changed)
	t.changed = make(chan struct{})
	t.mu.Unlock()
}

func (t *tee) finish() {
	t.mu.Lock()
	if !t.done {
		t.done = true
		close(t.changed)
		t.changed = make(chan struct{})
	}
	t.mu.Unlock()
}

// next returns the event at idx, or reports that the stream ended.
// When neither is available yet it returns a channel closed on the next change.
func (t *tee) next(idx int) (chat.StreamEvent, bool, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < len(t.events) {
		return t.events[idx], true, nil
	}
	if t.done {
		return chat.StreamEvent{}, false, nil
	}
	return chat.StreamEvent{}, false, t.changed
}

func (t *tee) subscribe(ctx context.Context) <-chan chat.StreamEvent {
	out := make(chan chat.StreamEvent)
	go func() {
		defer close(out)
		for idx := 0; ; {
			e, ok, wait := t.next(idx)
			if ok {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				idx++
				if e.IsTerminal() {
					return
				}
				continue
			}
			if wait == nil {
				return
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
