package diagnostics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/marty/internal/ir"
)

const instrumentationName = "github.com/roach88/marty/internal/diagnostics"

// spanContext carries the span of one step and its context for children.
type spanContext struct {
	ctx  context.Context
	span trace.Span
}

func (t *Tracer) startActionSpan(parent context.Context, action ir.Action, creator ir.Creator, depth int) spanContext {
	ctx, span := t.otel.Start(parent, "marty.Dispatch "+action.Type,
		trace.WithAttributes(
			attribute.String("marty.action.type", action.Type),
			attribute.String("marty.action.source", string(action.Source)),
			attribute.String("marty.creator.name", creator.Name),
			attribute.String("marty.creator.action", creator.Action),
			attribute.Int("marty.dispatch.depth", depth),
		),
	)
	return spanContext{ctx: ctx, span: span}
}

func (t *Tracer) startHandlerSpan(parent context.Context, store, handler string) spanContext {
	ctx, span := t.otel.Start(parent, "marty.Handler "+store+"."+handler,
		trace.WithAttributes(
			attribute.String("marty.store", store),
			attribute.String("marty.handler", handler),
		),
	)
	return spanContext{ctx: ctx, span: span}
}

func (t *Tracer) startViewSpan(parent context.Context, view string) spanContext {
	ctx, span := t.otel.Start(parent, "marty.View "+view,
		trace.WithAttributes(attribute.String("marty.view", view)),
	)
	return spanContext{ctx: ctx, span: span}
}

// end closes the span, marking it failed when err is set.
func (sc spanContext) end(err error) {
	if sc.span == nil {
		return
	}
	if err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
	sc.span.End()
}
