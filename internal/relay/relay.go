// Package relay turns an upstream event channel into the ordered sequence of fragments
// delivered to GraphQL clients.
package relay

import (
	"context"
	"errors"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/metrics"
)

// ErrAborted is reported when the upstream channel closes without a terminal event.
var ErrAborted = errors.New("relay: stream ended before completion")

// Item is one element of a relayed sequence. Exactly one of Fragment or Err is meaningful.
type Item struct {
	Fragment string
	Err      error
	// Final is set on the last item of the sequence.
	Final bool
}

// IsSentinel reports whether the item is the completion sentinel.
func (i Item) IsSentinel() bool { return i.Err == nil && chat.IsSentinel(i.Fragment) }

// Sequence pulls events one at a time. It does not buffer or coalesce.
type Sequence struct {
	events <-chan chat.StreamEvent
	done   bool
}

// New wraps an upstream event channel.
func New(events <-chan chat.StreamEvent) *Sequence {
	return &Sequence{events: events}
}

// Next returns the next item. ok is false once the sequence has ended, including when
// ctx is done before the next event arrives.
func (s *Sequence) Next(ctx context.Context) (Item, bool) {
	if s.done {
		return Item{}, false
	}
	select {
	case <-ctx.Done():
		s.finish("cancelled")
		return Item{}, false
	case e, ok := <-s.events:
		if !ok {
			s.finish("aborted")
			return Item{Err: ErrAborted, Final: true}, true
		}
		switch e.Kind {
		case chat.EventToken:
			metrics.StreamFragments.Inc()
			return Item{Fragment: e.Token}, true
		case chat.EventCompleted:
			s.finish("completed")
			return Item{Fragment: chat.StreamSentinel, Final: true}, true
		default:
			s.finish("failed")
			err := e.Err
			if err == nil {
				err = ErrAborted
			}
			return Item{Err: err, Final: true}, true
		}
	}
}

func (s *Sequence) finish(outcome string) {
	s.done = true
	metrics.StreamTerminations.WithLabelValues(outcome).Inc()
}

// Collect drains the sequence. The returned fragments end with the sentinel on success.
// On failure the fragments relayed so far are returned with the error.
func (s *Sequence) Collect(ctx context.Context) ([]string, error) {
	out := []string{}
	for {
		item, ok := s.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			return out, ErrAborted
		}
		if item.Err != nil {
			return out, item.Err
		}
		out = append(out, item.Fragment)
		if item.Final {
			return out, nil
		}
	}
}
