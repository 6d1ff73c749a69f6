package cil

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/telemetry"
	"github.com/ScottJutras/chief-ai-refactored-sub001/internal/types"
)

// Context is the normalized invocation context handed to a handler.
type Context struct {
	TenantID       string
	Actor          string // sender identity
	UserName       string
	IdempotencyKey string
	Media          []types.Media
}

// Result is what a handler reports back.
type Result struct {
	Action   string
	Inserted bool // false means the key was already consumed
	Summary  string
	Row      any
}

// Handler performs the domain mutation for one command type.
type Handler func(ctx context.Context, cmd Command, c Context) (*Result, error)

// Router dispatches validated commands through a fixed table.
type Router struct {
	table map[Type]Handler
	log   *zap.Logger
	tel   *telemetry.Instruments
}

// NewRouter copies table; later changes to the map are not seen.
func NewRouter(table map[Type]Handler, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	t := make(map[Type]Handler, len(table))
	for k, h := range table {
		if h != nil {
			t[k] = h
		}
	}
	return &Router{table: t, log: log, tel: telemetry.NewInstruments("router")}
}

// Dispatch runs the handler for cmd. Handler errors and panics come back as
// *HandlerError; a nil error always carries a Result.
func (r *Router) Dispatch(ctx context.Context, cmd Command, c Context) (res *Result, err error) {
	if cmd == nil {
		return nil, &HandlerError{Err: fmt.Errorf("nil command: %w", ErrNoHandler)}
	}
	h := cmd.Envelope()
	if c.TenantID == "" {
		c.TenantID = h.TenantID
	}
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = h.IdempotencyKey
	}

	handler, ok := r.table[h.Type]
	if !ok {
		return nil, &HandlerError{Type: h.Type, Err: ErrNoHandler}
	}

	attrs := []attribute.KeyValue{attribute.String("chief.cil_type", string(h.Type))}
	ctx, span, start := r.tel.Start(ctx, "cil.dispatch", attrs...)
	defer func() { r.tel.End(ctx, span, start, err, attrs...) }()

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panicked",
				zap.String("cil_type", string(h.Type)),
				zap.String("tenant", c.TenantID),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
			res = nil
			err = &HandlerError{Type: h.Type, Err: fmt.Errorf("%w: %v", ErrHandlerPanic, p)}
		}
	}()

	res, err = handler(ctx, cmd, c)
	if err != nil {
		return nil, &HandlerError{Type: h.Type, Err: err}
	}
	if res == nil {
		res = &Result{}
	}
	if res.Action == "" {
		if s, ok := schemas[h.Type]; ok {
			res.Action = s.Action
		}
	}
	r.log.Debug("command dispatched",
		zap.String("cil_type", string(h.Type)),
		zap.String("tenant", c.TenantID),
		zap.String("idempotency_key", c.IdempotencyKey),
		zap.Bool("inserted", res.Inserted))
	return res, nil
}

// Execute validates raw and dispatches it. A candidate that fails validation
// never reaches a handler.
func (r *Router) Execute(ctx context.Context, raw []byte, c Context) (*Result, error) {
	cmd, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, cmd, c)
}
