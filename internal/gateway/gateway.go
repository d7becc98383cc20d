// Package gateway calls external capabilities under a per-call deadline and
// normalizes the outcome.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 5 * time.Second

// Tool is one external capability.
type Tool interface {
	Name() domain.ToolName
	Call(ctx context.Context, params map[string]any, claims domain.AuthClaims) (any, error)
}

// Invoker runs tools by name. *Gateway implements it.
type Invoker interface {
	Invoke(ctx context.Context, name domain.ToolName, params map[string]any, claims domain.AuthClaims) domain.ToolInvocation
}

// Gateway dispatches calls to registered tools.
type Gateway struct {
	mu      sync.RWMutex
	tools   map[domain.ToolName]Tool
	timeout time.Duration
}

var _ Invoker = (*Gateway)(nil)

// New creates a gateway. A non-positive timeout uses DefaultTimeout.
func New(timeout time.Duration, tools ...Tool) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	g := &Gateway{tools: make(map[domain.ToolName]Tool), timeout: timeout}
	for _, t := range tools {
		g.Register(t)
	}
	return g
}

// Register adds or replaces a tool.
func (g *Gateway) Register(t Tool) {
	g.mu.Lock()
	g.tools[t.Name()] = t
	g.mu.Unlock()
}

type outcome struct {
	result any
	err    error
}

// Invoke calls the named tool. It always returns an invocation record; a call
// still running at the deadline is abandoned and reported as a timeout.
func (g *Gateway) Invoke(ctx context.Context, name domain.ToolName, params map[string]any, claims domain.AuthClaims) (inv domain.ToolInvocation) {
	inv = domain.ToolInvocation{ToolName: name, Params: redact(params)}
	start := time.Now()
	defer func() { inv.LatencyMS = time.Since(start).Milliseconds() }()

	g.mu.RLock()
	tool, ok := g.tools[name]
	g.mu.RUnlock()
	if !ok {
		inv.Status = domain.ToolStatusError
		inv.Error = fmt.Sprintf("unknown tool %q", name)
		return inv
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Call(ctx, params, claims)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		switch {
		case o.err == nil:
			inv.Status = domain.ToolStatusOK
			inv.Result = o.result
		case errors.Is(o.err, context.DeadlineExceeded):
			inv.Status = domain.ToolStatusTimeout
			inv.Error = o.err.Error()
		default:
			inv.Status = domain.ToolStatusError
			inv.Error = o.err.Error()
		}
	case <-ctx.Done():
		inv.Error = ctx.Err().Error()
		inv.Status = domain.ToolStatusError
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			inv.Status = domain.ToolStatusTimeout
		}
	}

	slog.Debug("Tool invoked", "tool", name, "status", inv.Status, "latency_ms", time.Since(start).Milliseconds())
	return inv
}

// redact copies params for the invocation record, replacing raw bytes with their size.
func redact(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if b, ok := v.([]byte); ok {
			out[k] = fmt.Sprintf("<%d bytes>", len(b))
			continue
		}
		out[k] = v
	}
	return out
}
