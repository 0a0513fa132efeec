// Package logx attaches tab, command and request fields to context loggers.
package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabrotor/schema"
)

type contextKey int

const (
	tabKey contextKey = iota
	commandKey
	requestKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id unless the context already carries it.
func WithTab(ctx context.Context, tabID schema.TabID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
		return log
	}
	return log.With("tab", int64(tabID))
}

// WithURL annotates the logger with a URL when available.
func WithURL(log pslog.Logger, url string) pslog.Logger {
	if url != "" {
		log = log.With("url", url)
	}
	return log
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithTabLogger attaches the logger and tab marker to the context.
func ContextWithTabLogger(ctx context.Context, log pslog.Logger, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ctx, tabID)
}

// WithCommand annotates the logger with the command type unless the context already carries it.
func WithCommand(ctx context.Context, kind string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if kind == "" {
		return log
	}
	if current, ok := ctx.Value(commandKey).(string); ok && current == kind {
		return log
	}
	return log.With("command", kind)
}

// ContextWithCommandLogger attaches the logger and command marker to the context.
func ContextWithCommandLogger(ctx context.Context, log pslog.Logger, kind string) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	if ctx == nil || kind == "" {
		return ctx
	}
	return context.WithValue(ctx, commandKey, kind)
}

// ContextWithRequest attaches a request-scoped logger carrying request_id.
func ContextWithRequest(ctx context.Context, requestID string) context.Context {
	log := pslog.Ctx(ctx)
	if requestID != "" {
		log = log.With("request_id", requestID)
	}
	ctx = pslog.ContextWithLogger(ctx, log)
	return context.WithValue(ctx, requestKey, requestID)
}

// RequestID returns the request id carried by ctx, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestKey).(string)
	return id
}
