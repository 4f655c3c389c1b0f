// internal/catalog/dispatch.go
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"librarycatalog/internal/pubsub"
)

// operation runs one named entry of the operation table against raw JSON variables.
type operation func(ctx context.Context, vars json.RawMessage) (any, error)

// Dispatcher routes operation names to the Service.
type Dispatcher struct {
	ops     map[string]operation
	subs    map[string]func(ctx context.Context) (*pubsub.Subscription, error)
	metrics *Metrics
}

// NewDispatcher builds the operation table over svc. metrics may be nil.
func NewDispatcher(svc Service, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		ops: map[string]operation{
			"bookCount":   noInput(svc.BookCount),
			"authorCount": noInput(svc.AuthorCount),
			"allBooks":    typed(svc.AllBooks),
			"allAuthors":  noInput(svc.AllAuthors),
			"me":          noInput(svc.Me),
			"addBook":     typed(svc.AddBook),
			"editAuthor":  typed(svc.EditAuthor),
			"createUser":  typed(svc.CreateUser),
			"login":       typed(svc.Login),
		},
		subs: map[string]func(ctx context.Context) (*pubsub.Subscription, error){
			"bookAdded": svc.BookAdded,
		},
		metrics: metrics,
	}
}

// Operations lists the request/response operation names in sorted order.
func (d *Dispatcher) Operations() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named operation. Every error it returns is an *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, vars json.RawMessage) (any, error) {
	op, ok := d.ops[name]
	if !ok {
		d.metrics.observe("unknown", KindBadUserInput, 0)
		return nil, badInput(name, "operation", "unknown operation "+quote(name))
	}
	start := time.Now()
	out, err := op(ctx, vars)
	d.metrics.observe(name, KindOf(err), time.Since(start))
	return out, err
}

// Subscribe opens the named subscription operation.
func (d *Dispatcher) Subscribe(ctx context.Context, name string) (*pubsub.Subscription, error) {
	open, ok := d.subs[name]
	if !ok {
		return nil, badInput(name, "operation", "unknown subscription "+quote(name))
	}
	sub, err := open(ctx)
	d.metrics.observe(name, KindOf(err), 0)
	return sub, err
}

func typed[In, Out any](fn func(context.Context, In) (Out, error)) operation {
	return func(ctx context.Context, vars json.RawMessage) (any, error) {
		var in In
		if err := decodeVars(vars, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

func noInput[Out any](fn func(context.Context) (Out, error)) operation {
	return func(ctx context.Context, vars json.RawMessage) (any, error) {
		var none struct{}
		if err := decodeVars(vars, &none); err != nil {
			return nil, err
		}
		return fn(ctx)
	}
}

func decodeVars(vars json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(vars)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &Error{Kind: KindBadUserInput, Field: "variables", Message: "invalid variables", Err: err}
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
