package command

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/tabrotor/internal/logx"
	"pkt.systems/tabrotor/schema"
)

// Engine is the subset of the rotation engine driven by commands.
type Engine interface {
	GetState(ctx context.Context, tabID schema.TabID) (schema.GetStateResponse, error)
	Start(ctx context.Context, req schema.StartRequest) error
	Stop(ctx context.Context, tabID schema.TabID) error
	SaveURLs(ctx context.Context, urls []string) error
	Forget(ctx context.Context, tabID schema.TabID) error
}

// Executor runs fn on the engine's event loop and waits for it.
type Executor func(ctx context.Context, fn func(ctx context.Context) error) error

// HandlerConfig configures command handling.
type HandlerConfig struct {
	// Exec serializes commands. Nil runs them on the caller's goroutine.
	Exec                Executor
	DisableAuditLogging bool
}

type handlerFunc func(h *Handler, ctx context.Context, cmd Command) (any, error)

var handlers = map[Kind]handlerFunc{
	KindGetState: (*Handler).handleGetState,
	KindStart:    (*Handler).handleStart,
	KindStop:     (*Handler).handleStop,
	KindSaveURLs: (*Handler).handleSaveURLs,
	KindForget:   (*Handler).handleForget,
}

// Handler routes commands to the rotation engine.
type Handler struct {
	engine Engine
	cfg    HandlerConfig
}

// NewHandler constructs a command handler.
func NewHandler(engine Engine, cfg HandlerConfig) *Handler {
	if cfg.Exec == nil {
		cfg.Exec = func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		}
	}
	return &Handler{engine: engine, cfg: cfg}
}

// Handle executes cmd and returns its JSON-serializable result.
func (h *Handler) Handle(ctx context.Context, cmd Command) (any, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: missing command", schema.ErrInvalidRequest)
	}
	kind := cmd.Kind()
	log := logx.WithCommand(ctx, string(kind))
	ctx = logx.ContextWithCommandLogger(ctx, log, string(kind))
	fn, ok := handlers[kind]
	if !ok {
		log.Warn("command rejected", "reason", "unknown")
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownCommand, kind)
	}
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command_type", string(kind))
	}
	var result any
	err := h.cfg.Exec(ctx, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Once dequeued a command runs to completion even if the caller leaves.
		var err error
		result, err = fn(h, context.WithoutCancel(ctx), cmd)
		return err
	})
	if err != nil {
		if schema.IsValidation(err) {
			log.Info("command rejected", "err", err)
		} else {
			log.Warn("command failed", "err", err)
		}
		return nil, err
	}
	log.Debug("command ok")
	return result, nil
}

// HandleJSON decodes an envelope and executes it.
func (h *Handler) HandleJSON(ctx context.Context, data []byte) (any, error) {
	cmd, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, cmd)
}

func (h *Handler) handleGetState(ctx context.Context, cmd Command) (any, error) {
	c, ok := cmd.(GetState)
	if !ok {
		return nil, variantMismatch(cmd)
	}
	return h.engine.GetState(ctx, c.TabID)
}

func (h *Handler) handleStart(ctx context.Context, cmd Command) (any, error) {
	c, ok := cmd.(Start)
	if !ok {
		return nil, variantMismatch(cmd)
	}
	err := h.engine.Start(ctx, schema.StartRequest{
		TabID:   c.TabID,
		URLs:    c.URLs,
		MinTime: c.MinTime,
		MaxTime: c.MaxTime,
	})
	if err != nil {
		return nil, err
	}
	return schema.Ack{Success: true}, nil
}

func (h *Handler) handleStop(ctx context.Context, cmd Command) (any, error) {
	c, ok := cmd.(Stop)
	if !ok {
		return nil, variantMismatch(cmd)
	}
	if err := h.engine.Stop(ctx, c.TabID); err != nil {
		return nil, err
	}
	return schema.Ack{Success: true}, nil
}

func (h *Handler) handleSaveURLs(ctx context.Context, cmd Command) (any, error) {
	c, ok := cmd.(SaveURLs)
	if !ok {
		return nil, variantMismatch(cmd)
	}
	if err := h.engine.SaveURLs(ctx, c.URLs); err != nil {
		return nil, err
	}
	return schema.Ack{Success: true}, nil
}

func (h *Handler) handleForget(ctx context.Context, cmd Command) (any, error) {
	c, ok := cmd.(Forget)
	if !ok {
		return nil, variantMismatch(cmd)
	}
	if err := h.engine.Forget(ctx, c.TabID); err != nil {
		return nil, err
	}
	return schema.Ack{Success: true}, nil
}

func variantMismatch(cmd Command) error {
	return fmt.Errorf("%w: unexpected %T for %s", schema.ErrInvalidRequest, cmd, cmd.Kind())
}
