// Package dedup collapses identical upstream requests made within one GraphQL operation.
//
// A Loader lives for exactly one resolution context. It is not a cache: nothing is retained
// across operations and there is no eviction.
package dedup

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/metrics"
)

// FetchFunc issues one single-shot upstream call.
type FetchFunc func(ctx context.Context) (string, error)

// OpenFunc opens one upstream stream. It must return only once the upstream call is in flight.
type OpenFunc func(ctx context.Context) (<-chan chat.StreamEvent, error)

// Loader memoizes single-shot values and shares streams by key.
type Loader struct {
	group singleflight.Group

	mu      sync.Mutex
	values  map[string]string
	streams map[string]*tee
}

// New creates an empty Loader.
func New() *Loader {
	return &Loader{
		values:  make(map[string]string),
		streams: make(map[string]*tee),
	}
}

// Load returns the value for key, calling fetch at most once per key while it succeeds.
// The empty key bypasses the memo and returns the empty value without calling fetch.
// Failed fetches are not memoized.
func (l *Loader) Load(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	if key == "" {
		return "", nil
	}
	l.mu.Lock()
	if v, ok := l.values[key]; ok {
		l.mu.Unlock()
		metrics.DedupHits.WithLabelValues("single").Inc()
		return v, nil
	}
	l.mu.Unlock()

	v, err, shared := l.group.Do("value:"+key, func() (any, error) {
		l.mu.Lock()
		if v, ok := l.values[key]; ok {
			l.mu.Unlock()
			return v, nil
		}
		l.mu.Unlock()

		v, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		l.mu.Lock()
		l.values[key] = v
		l.mu.Unlock()
		return v, nil
	})
	if shared {
		metrics.DedupHits.WithLabelValues("single").Inc()
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// LoadStream returns a subscription to the stream for key. The first caller opens the
// upstream stream; concurrent and later callers with the same key share it and receive
// every event from the beginning. The empty key yields a completed stream without calling
// open.
func (l *Loader) LoadStream(ctx context.Context, key string, open OpenFunc) (<-chan chat.StreamEvent, error) {
	if key == "" {
		return chat.Closed(chat.Completed(nil)), nil
	}
	l.mu.Lock()
	if t, ok := l.streams[key]; ok {
		l.mu.Unlock()
		metrics.DedupHits.WithLabelValues("stream").Inc()
		return t.subscribe(ctx), nil
	}
	l.mu.Unlock()

	v, err, shared := l.group.Do("stream:"+key, func() (any, error) {
		l.mu.Lock()
		if t, ok := l.streams[key]; ok {
			l.mu.Unlock()
			return t, nil
		}
		l.mu.Unlock()

		events, err := open(ctx)
		if err != nil {
			return nil, err
		}
		t := newTee()
		go t.pump(ctx, events)
		l.mu.Lock()
		l.streams[key] = t
		l.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		metrics.DedupHits.WithLabelValues("stream").Inc()
	}
	return v.(*tee).subscribe(ctx), nil
}

type loaderKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *Loader) context.Context {
	return context.WithValue(ctx, loaderKey{}, l)
}

// FromContext returns the Loader scoped to ctx, or a fresh one that dedups nothing
// beyond the caller's own use when none was installed.
func FromContext(ctx context.Context) *Loader {
	if l, ok := ctx.Value(loaderKey{}).(*Loader); ok && l != nil {
		return l
	}
	return New()
}
