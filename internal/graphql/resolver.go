package graphql

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/tidwall/sjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/tokligence/chatrelay/internal/auth"
	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/config"
	"github.com/tokligence/chatrelay/internal/hooks"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/relay"
	"github.com/tokligence/chatrelay/internal/userstore"
)

// errConversationsDisabled is returned when no user store is configured.
var errConversationsDisabled = errors.New("conversations are not available")

// Completer is the upstream surface the resolvers call. *upstream.Adapter satisfies it.
type Completer interface {
	Complete(ctx context.Context, params chat.Params) (string, error)
	Stream(ctx context.Context, params chat.Params) (<-chan chat.StreamEvent, error)
}

// UsageReader reports accumulated usage. ledger.Store satisfies it.
type UsageReader interface {
	Summary(ctx context.Context, userID string) (ledger.Summary, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]ledger.Entry, error)
}

const maxRecentUsage = 100

// Resolver holds the dependencies for all GraphQL resolvers.
type Resolver struct {
	Upstream Completer
	Users    userstore.Store
	Usage    UsageReader
	Catalog  config.Catalog
	Defaults chat.Defaults
	Hooks    *hooks.Dispatcher
	Logger   *log.Logger
}

func (r *Resolver) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

func (r *Resolver) query() *object {
	return &object{typeName: "Query", parallel: true, fields: map[string]fieldFunc{
		"chat":          r.chat,
		"viewer":        r.viewer,
		"conversations": r.conversations,
		"conversation":  r.conversation,
		"models":        r.models,
		"ping":          value("pong"),
	}}
}

func (r *Resolver) mutation() *object {
	return &object{typeName: "Mutation", fields: map[string]fieldFunc{
		"createConversation": r.createConversation,
		"appendTurns":        r.appendTurns,
	}}
}

func (r *Resolver) chat(_ context.Context, ec *execContext, fc fieldContext) (any, error) {
	var args chatArgs
	if err := ec.args(fc, &args); err != nil {
		return nil, err
	}
	parent := chat.Parent{Messages: toTranscript(args.Messages), MaxTokens: derefInt(args.MaxTokens)}
	return &object{typeName: "Chat", parallel: true, fields: map[string]fieldFunc{
		"Groq": func(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
			var args paramsArgs
			if err := ec.args(fc, &args); err != nil {
				return nil, err
			}
			text, err := r.complete(ctx, ec, parent, args.Params)
			if err != nil {
				return nil, err
			}
			return chatResultObject(text), nil
		},
		"GroqStream": func(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
			var args paramsArgs
			if err := ec.args(fc, &args); err != nil {
				return nil, err
			}
			events, err := r.stream(ctx, ec, parent, args.Params)
			if err != nil {
				return nil, err
			}
			seq := relay.New(events)
			if ec.incremental {
				ec.deferList(fc, seq)
				return []string{}, nil
			}
			return seq.Collect(ctx)
		},
	}}, nil
}

// compose resolves the effective parameters for one Groq field.
func (r *Resolver) compose(parent chat.Parent, in groqArgs) chat.Params {
	params := chat.Compose(parent, chat.Args{
		Messages:  toTranscript(in.Messages),
		APIKey:    in.APIKey,
		Model:     in.Model,
		MaxTokens: derefInt(in.MaxTokens),
	}, r.Defaults)
	params.MaxTokens = r.Catalog.Clamp(params.Model, params.MaxTokens)
	return params
}

func (r *Resolver) complete(ctx context.Context, ec *execContext, parent chat.Parent, in groqArgs) (string, error) {
	params := r.compose(parent, in)
	key := chat.DeriveKey(params)
	owner, err := r.conversationOwner(ctx, in.ConversationID)
	if err != nil {
		return "", err
	}
	persist := owner != "" && key != "" && ec.claim("single:"+in.ConversationID+":"+key)
	if persist {
		if err := r.appendUserTurn(ctx, owner, in.ConversationID, params); err != nil {
			return "", err
		}
	}
	text, err := r.Upstream.Complete(ctx, params)
	if err != nil {
		return "", err
	}
	if persist {
		r.appendAssistantTurn(ctx, owner, in.ConversationID, text)
	}
	return text, nil
}

func (r *Resolver) stream(ctx context.Context, ec *execContext, parent chat.Parent, in groqArgs) (<-chan chat.StreamEvent, error) {
	params := r.compose(parent, in)
	key := chat.StreamKey(params)
	owner, err := r.conversationOwner(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	persist := owner != "" && key != "" && ec.claim("stream:"+in.ConversationID+":"+key)
	if persist {
		if err := r.appendUserTurn(ctx, owner, in.ConversationID, params); err != nil {
			return nil, err
		}
	}
	events, err := r.Upstream.Stream(ctx, params)
	if err != nil || !persist {
		return events, err
	}
	var reply strings.Builder
	return chat.Observe(ctx, events, func(e chat.StreamEvent) {
		switch e.Kind {
		case chat.EventToken:
			reply.WriteString(e.Token)
		case chat.EventCompleted:
			r.appendAssistantTurn(ctx, owner, in.ConversationID, reply.String())
		}
	}), nil
}

// conversationOwner returns the user a conversation-scoped request acts for.
func (r *Resolver) conversationOwner(ctx context.Context, conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", nil
	}
	if r.Users == nil {
		return "", errConversationsDisabled
	}
	v := auth.ViewerFrom(ctx)
	if v.Anonymous() {
		return "", auth.ErrUnauthenticated
	}
	return v.UserID, nil
}

func (r *Resolver) appendUserTurn(ctx context.Context, owner, conversationID string, params chat.Params) error {
	last, ok := params.Messages.Last()
	if !ok {
		return nil
	}
	_, err := r.Users.AppendTurns(ctx, owner, conversationID, []chat.Turn{last})
	return err
}

func (r *Resolver) appendAssistantTurn(ctx context.Context, owner, conversationID, text string) {
	if text == "" {
		return
	}
	turn := chat.Turn{Role: chat.RoleAssistant, Content: text}
	if _, err := r.Users.AppendTurns(context.WithoutCancel(ctx), owner, conversationID, []chat.Turn{turn}); err != nil {
		r.logf("append assistant turn to %s: %v", conversationID, err)
	}
}

func (r *Resolver) viewer(ctx context.Context, _ *execContext, _ fieldContext) (any, error) {
	v := auth.ViewerFrom(ctx)
	var summary ledger.Summary
	if r.Usage != nil {
		s, err := r.Usage.Summary(ctx, v.Subject())
		if err != nil {
			return nil, err
		}
		summary = s
	}
	recent := func(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
		if r.Usage == nil {
			return []*object{}, nil
		}
		var args struct {
			Limit *int `json:"limit"`
		}
		if err := ec.args(fc, &args); err != nil {
			return nil, err
		}
		limit := 10
		if args.Limit != nil && *args.Limit > 0 {
			limit = min(*args.Limit, maxRecentUsage)
		}
		entries, err := r.Usage.ListRecent(ctx, v.Subject(), limit)
		if err != nil {
			return nil, err
		}
		out := make([]*object, 0, len(entries))
		for _, e := range entries {
			out = append(out, usageEntryObject(e))
		}
		return out, nil
	}
	return viewerObject(v, summary, recent), nil
}

func (r *Resolver) conversations(ctx context.Context, _ *execContext, _ fieldContext) (any, error) {
	v := auth.ViewerFrom(ctx)
	if v.Anonymous() || r.Users == nil {
		return []*object{}, nil
	}
	list, err := r.Users.ListConversations(ctx, v.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*object, 0, len(list))
	for i := range list {
		out = append(out, r.conversationObject(&list[i]))
	}
	return out, nil
}

func (r *Resolver) conversation(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
	var args struct {
		ID string `json:"id"`
	}
	if err := ec.args(fc, &args); err != nil {
		return nil, err
	}
	v := auth.ViewerFrom(ctx)
	if v.Anonymous() || r.Users == nil {
		return nil, nil
	}
	c, err := r.Users.GetConversation(ctx, v.UserID, args.ID)
	if errors.Is(err, userstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.conversationObject(c), nil
}

func (r *Resolver) models(context.Context, *execContext, fieldContext) (any, error) {
	out := make([]*object, 0, len(r.Catalog))
	for _, m := range r.Catalog {
		out = append(out, modelObject(m))
	}
	return out, nil
}

func (r *Resolver) createConversation(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
	var args struct {
		Title string `json:"title"`
	}
	if err := ec.args(fc, &args); err != nil {
		return nil, err
	}
	owner, err := r.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	c, err := r.Users.CreateConversation(ctx, owner, args.Title)
	if err != nil {
		return nil, err
	}
	evt := hooks.NewEvent(hooks.EventConversationCreated, owner, map[string]any{"conversation_id": c.ID, "title": c.Title})
	if err := r.Hooks.Emit(ctx, evt); err != nil {
		r.logf("conversation hook failed: %v", err)
	}
	return r.conversationObject(c), nil
}

func (r *Resolver) appendTurns(ctx context.Context, ec *execContext, fc fieldContext) (any, error) {
	var args struct {
		ConversationID string         `json:"conversationId"`
		Turns          []messageInput `json:"turns"`
	}
	if err := ec.args(fc, &args); err != nil {
		return nil, err
	}
	owner, err := r.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	c, err := r.Users.AppendTurns(ctx, owner, args.ConversationID, toTranscript(args.Turns))
	if err != nil {
		return nil, err
	}
	return r.conversationObject(c), nil
}

func (r *Resolver) requireUser(ctx context.Context) (string, error) {
	if r.Users == nil {
		return "", errConversationsDisabled
	}
	v := auth.ViewerFrom(ctx)
	if v.Anonymous() {
		return "", auth.ErrUnauthenticated
	}
	return v.UserID, nil
}

// subscribe serves chatStream: one response per relayed item.
func (r *Resolver) subscribe(ctx context.Context, ec *execContext) graphql.ResponseHandler {
	fields := graphql.CollectFields(ec.opCtx, ec.opCtx.Operation.SelectionSet, []string{"Subscription"})
	if len(fields) != 1 || fields[0].Name != "chatStream" {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "subscriptions must select exactly chatStream"))
	}
	f := fields[0]
	fc := fieldContext{Field: f, Path: ast.Path{ast.PathName(f.Alias)}}
	var args paramsArgs
	if err := ec.args(fc, &args); err != nil {
		return graphql.OneShot(&graphql.Response{Data: jsonNull, Errors: gqlerror.List{pathError(fc.Path, err)}})
	}
	events, err := r.stream(ctx, ec, chat.Parent{}, args.Params)
	if err != nil {
		return graphql.OneShot(&graphql.Response{Data: jsonNull, Errors: gqlerror.List{pathError(fc.Path, err)}})
	}
	seq := relay.New(events)
	done := false
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		item, ok := seq.Next(ctx)
		if !ok {
			return nil
		}
		done = item.Final
		if item.Err != nil {
			return &graphql.Response{Data: jsonNull, Errors: gqlerror.List{pathError(fc.Path, item.Err)}}
		}
		data, _ := sjson.SetBytes([]byte("{}"), f.Alias, item.Fragment)
		return &graphql.Response{Data: data}
	}
}
