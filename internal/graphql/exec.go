package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/tidwall/sjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/tokligence/chatrelay/internal/relay"
)

var jsonNull = json.RawMessage("null")

// fieldContext locates one field in the response.
type fieldContext struct {
	Field graphql.CollectedField
	Path  ast.Path
	// Order is the field's position in selection order. Deferred lists start in this order.
	Order []int
}

type fieldFunc func(ctx context.Context, ec *execContext, fc fieldContext) (any, error)

// object is one GraphQL object value whose fields resolve lazily.
type object struct {
	typeName string
	// parallel resolves the selected fields concurrently.
	parallel bool
	fields   map[string]fieldFunc
}

func value(v any) fieldFunc {
	return func(context.Context, *execContext, fieldContext) (any, error) { return v, nil }
}

// cursor is a streamed list whose items follow the initial payload.
type cursor struct {
	path  ast.Path
	order []int
	seq   *relay.Sequence
	next  int
}

// execContext is the state of one operation.
type execContext struct {
	opCtx       *graphql.OperationContext
	incremental bool

	mu       sync.Mutex
	errs     gqlerror.List
	deferred []*cursor
	claims   sync.Map
}

func newExecContext(opCtx *graphql.OperationContext, incremental bool) *execContext {
	return &execContext{opCtx: opCtx, incremental: incremental}
}

func (ec *execContext) addError(path ast.Path, err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errs = append(ec.errs, pathError(path, err))
}

func pathError(path ast.Path, err error) *gqlerror.Error {
	return &gqlerror.Error{Err: err, Message: err.Error(), Path: path}
}

// args decodes the field's arguments into dst.
func (ec *execContext) args(fc fieldContext, dst any) error {
	raw, err := json.Marshal(fc.Field.ArgumentMap(ec.opCtx.Variables))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", fc.Field.Name, err)
	}
	return nil
}

// claim reports whether key is seen for the first time in this operation.
func (ec *execContext) claim(key string) bool {
	_, loaded := ec.claims.LoadOrStore(key, struct{}{})
	return !loaded
}

// deferList registers seq to be delivered item by item after the initial payload.
func (ec *execContext) deferList(fc fieldContext, seq *relay.Sequence) {
	ec.mu.Lock()
	ec.deferred = append(ec.deferred, &cursor{path: fc.Path, order: fc.Order, seq: seq})
	ec.mu.Unlock()
}

func (ec *execContext) response(data json.RawMessage) *graphql.Response {
	if data == nil {
		data = jsonNull
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return &graphql.Response{Data: data, Errors: ec.errs}
}

// delivery is one item pulled from a cursor, or the cursor's end when ok is false.
type delivery struct {
	c    *cursor
	item relay.Item
	ok   bool
}

// forward pulls c until its final item and hands each item to out.
func forward(ctx context.Context, c *cursor, out chan<- delivery) {
	for {
		item, ok := c.seq.Next(ctx)
		select {
		case out <- delivery{c: c, item: item, ok: ok}:
		case <-ctx.Done():
			return
		}
		if !ok || item.Final {
			return
		}
	}
}

// responses returns the initial payload followed by one response per deferred item.
// Items of different lists are delivered in arrival order; each list keeps its own order.
func (ec *execContext) responses(data json.RawMessage) graphql.ResponseHandler {
	if len(ec.deferred) == 0 || data == nil {
		return graphql.OneShot(ec.response(data))
	}
	pending := slices.Clone(ec.deferred)
	slices.SortStableFunc(pending, func(a, b *cursor) int { return slices.Compare(a.order, b.order) })

	initial := true
	var feed chan delivery
	remaining := len(pending)
	return func(ctx context.Context) *graphql.Response {
		if initial {
			initial = false
			resp := ec.response(data)
			hasNext := true
			resp.HasNext = &hasNext
			return resp
		}
		if feed == nil {
			feed = make(chan delivery)
			for _, c := range pending {
				go forward(ctx, c, feed)
			}
		}
		for remaining > 0 {
			var d delivery
			select {
			case d = <-feed:
			case <-ctx.Done():
				return nil
			}
			if !d.ok || d.item.Final {
				remaining--
			}
			if !d.ok {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}
			hasNext := remaining > 0
			c := d.c
			path := appendPath(c.path, ast.PathIndex(c.next))
			c.next++
			if d.item.Err != nil {
				return &graphql.Response{
					Data:    jsonNull,
					Path:    path,
					HasNext: &hasNext,
					Errors:  gqlerror.List{pathError(path, d.item.Err)},
				}
			}
			payload, _ := json.Marshal([]string{d.item.Fragment})
			return &graphql.Response{Data: payload, Path: path, HasNext: &hasNext}
		}
		return nil
	}
}

// resolveObject resolves the selection set on obj. A nil result means null, which
// happens when a non-null field could not be resolved.
func (ec *execContext) resolveObject(ctx context.Context, obj *object, sel ast.SelectionSet, path ast.Path, order []int) json.RawMessage {
	fields := graphql.CollectFields(ec.opCtx, sel, []string{obj.typeName})
	type result struct {
		v   any
		err error
	}
	results := make([]result, len(fields))
	fcs := make([]fieldContext, len(fields))
	for i, f := range fields {
		fcs[i] = fieldContext{Field: f, Path: appendPath(path, ast.PathName(f.Alias)), Order: appendOrder(order, i)}
	}
	run := func(i int) {
		defer func() {
			if p := recover(); p != nil {
				results[i] = result{err: fmt.Errorf("internal error resolving %s: %v", fields[i].Name, p)}
			}
		}()
		f := fields[i]
		if f.Name == "__typename" {
			results[i] = result{v: obj.typeName}
			return
		}
		fn, ok := obj.fields[f.Name]
		if !ok {
			results[i] = result{err: fmt.Errorf("field %s.%s is not served", obj.typeName, f.Name)}
			return
		}
		v, err := fn(ctx, ec, fcs[i])
		results[i] = result{v: v, err: err}
	}
	if obj.parallel && len(fields) > 1 {
		var wg sync.WaitGroup
		for i := range fields {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range fields {
			run(i)
		}
	}

	out := []byte("{}")
	for i, f := range fields {
		var raw json.RawMessage
		if err := results[i].err; err != nil {
			ec.addError(fcs[i].Path, err)
		} else {
			raw = ec.complete(ctx, results[i].v, f, fcs[i])
		}
		if raw == nil {
			if f.Definition != nil && f.Definition.Type.NonNull {
				return nil
			}
			raw = jsonNull
		}
		out, _ = sjson.SetRawBytes(out, f.Alias, raw)
	}
	return out
}

// complete serializes a resolved value for field f.
func (ec *execContext) complete(ctx context.Context, v any, f graphql.CollectedField, fc fieldContext) json.RawMessage {
	switch x := v.(type) {
	case nil:
		return nil
	case *object:
		if x == nil {
			return nil
		}
		return ec.resolveObject(ctx, x, f.Selections, fc.Path, fc.Order)
	case []*object:
		elemNonNull := f.Definition != nil && f.Definition.Type.Elem != nil && f.Definition.Type.Elem.NonNull
		out := []byte("[]")
		for i, o := range x {
			var raw json.RawMessage
			if o != nil {
				raw = ec.resolveObject(ctx, o, f.Selections, appendPath(fc.Path, ast.PathIndex(i)), appendOrder(fc.Order, i))
			}
			if raw == nil {
				if elemNonNull {
					return nil
				}
				raw = jsonNull
			}
			out, _ = sjson.SetRawBytes(out, "-1", raw)
		}
		return out
	case json.RawMessage:
		return x
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			ec.addError(fc.Path, err)
			return nil
		}
		return raw
	}
}

func appendPath(p ast.Path, e ast.PathElement) ast.Path {
	out := make(ast.Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, e)
}

func appendOrder(o []int, i int) []int {
	out := make([]int, len(o), len(o)+1)
	copy(out, o)
	return append(out, i)
}
