// Package upstream is the relay's single entry point to the model provider. It derives
// dedup keys from composed parameters, shares identical calls within an operation and
// accounts for every completion.
package upstream

import (
	"context"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokligence/chatrelay/internal/adapter"
	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/dedup"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/metrics"
)

// Recorder receives usage entries. ledger.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry ledger.Entry) error
}

// Adapter wraps a ChatAdapter with per-operation dedup, tracing and usage accounting.
type Adapter struct {
	chat     adapter.ChatAdapter
	recorder Recorder
	logger   *log.Logger
	tracer   trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRecorder records usage for every completion.
func WithRecorder(r Recorder) Option { return func(a *Adapter) { a.recorder = r } }

// WithLogger sets the logger used for accounting failures.
func WithLogger(l *log.Logger) Option { return func(a *Adapter) { a.logger = l } }

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option { return func(a *Adapter) { a.tracer = t } }

// New creates an Adapter over provider.
func New(provider adapter.ChatAdapter, opts ...Option) *Adapter {
	a := &Adapter{chat: provider, tracer: otel.Tracer("github.com/tokligence/chatrelay/internal/upstream")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Complete returns the single-shot completion for params. Identical keys within one
// operation share one upstream call; an empty key returns "" without calling upstream.
func (a *Adapter) Complete(ctx context.Context, params chat.Params) (string, error) {
	key := chat.DeriveKey(params)
	if key == "" {
		return "", nil
	}
	return dedup.FromContext(ctx).Load(ctx, key, func(ctx context.Context) (string, error) {
		ctx, span := a.tracer.Start(ctx, "upstream.complete", trace.WithAttributes(
			attribute.String("llm.model", params.Model),
			attribute.Int("llm.max_tokens", params.MaxTokens),
			attribute.Int("llm.messages", len(params.Messages)),
		))
		defer span.End()

		start := time.Now()
		resp, err := a.chat.CreateCompletion(ctx, params)
		metrics.ObserveUpstream(string(ledger.ModeSingle), err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		usage := resp.Usage
		if usage.Total() == 0 {
			usage = chat.EstimateUsage(params.Messages, resp.Text)
		}
		model := resp.Model
		if model == "" {
			model = params.Model
		}
		span.SetAttributes(attribute.Int("llm.prompt_tokens", usage.PromptTokens), attribute.Int("llm.completion_tokens", usage.CompletionTokens))
		a.account(ctx, model, ledger.ModeSingle, usage)
		return resp.Text, nil
	})
}

// Stream opens the token stream for params. It returns once the upstream call is in
// flight. Identical stream keys within one operation share one upstream stream; an empty
// key yields a completed stream without calling upstream.
func (a *Adapter) Stream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error) {
	key := chat.StreamKey(params)
	return dedup.FromContext(ctx).LoadStream(ctx, key, func(ctx context.Context) (<-chan chat.StreamEvent, error) {
		ctx, span := a.tracer.Start(ctx, "upstream.stream", trace.WithAttributes(
			attribute.String("llm.model", params.Model),
			attribute.Int("llm.max_tokens", params.MaxTokens),
			attribute.Int("llm.messages", len(params.Messages)),
		))
		start := time.Now()
		events, err := a.chat.CreateCompletionStream(ctx, params)
		if err != nil {
			metrics.ObserveUpstream(string(ledger.ModeStream), err, time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}

		out := make(chan chat.StreamEvent)
		go a.pump(ctx, span, start, params, events, out)
		return out, nil
	})
}

// pump forwards provider events, accounting for usage once the stream completes.
func (a *Adapter) pump(ctx context.Context, span trace.Span, start time.Time, params chat.Params, events <-chan chat.StreamEvent, out chan<- chat.StreamEvent) {
	defer span.End()
	defer close(out)

	var text strings.Builder
	for {
		var e chat.StreamEvent
		var ok bool
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "cancelled")
			return
		case e, ok = <-events:
		}
		if !ok {
			span.SetStatus(codes.Error, "stream closed without completion")
			return
		}
		switch e.Kind {
		case chat.EventToken:
			text.WriteString(e.Token)
		case chat.EventCompleted:
			usage := chat.EstimateUsage(params.Messages, text.String())
			if e.Usage != nil && e.Usage.Total() > 0 {
				usage = *e.Usage
			}
			metrics.ObserveUpstream(string(ledger.ModeStream), nil, time.Since(start))
			span.SetAttributes(attribute.Int("llm.prompt_tokens", usage.PromptTokens), attribute.Int("llm.completion_tokens", usage.CompletionTokens))
			a.account(ctx, params.Model, ledger.ModeStream, usage)
		case chat.EventFailed:
			metrics.ObserveUpstream(string(ledger.ModeStream), e.Err, time.Since(start))
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, "stream failed")
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return
		}
		if e.IsTerminal() {
			return
		}
	}
}

func (a *Adapter) account(ctx context.Context, model string, mode ledger.Mode, usage chat.Usage) {
	metrics.Tokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	metrics.Tokens.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	if a.recorder == nil {
		return
	}
	entry := ledger.Entry{
		UserID:           auth.ViewerFrom(ctx).Subject(),
		Model:            model,
		Mode:             mode,
		PromptTokens:     int64(usage.PromptTokens),
		CompletionTokens: int64(usage.CompletionTokens),
	}
	if err := a.recorder.Record(context.WithoutCancel(ctx), entry); err != nil && a.logger != nil {
		a.logger.Printf("record usage for %s: %v", entry.UserID, err)
	}
}
