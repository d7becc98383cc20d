package agent

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/gateway"
)

const (
	reasonBudget   = "tool budget exhausted"
	reasonDeadline = "dispatch deadline exceeded"
	reasonCycle    = "unresolvable step dependency"
)

// Dispatcher plans and runs the tool calls for a request.
type Dispatcher struct {
	invoker  gateway.Invoker
	policy   Policy
	catalog  *catalog.Catalog
	budget   int
	deadline time.Duration
}

// NewDispatcher creates a dispatcher. A nil policy uses DefaultPolicy and a
// nil catalog the built-in one.
func NewDispatcher(invoker gateway.Invoker, policy Policy, cat *catalog.Catalog, budget int, deadline time.Duration) *Dispatcher {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if budget <= 0 {
		budget = DefaultConfig().ToolBudget
	}
	if deadline <= 0 {
		deadline = DefaultConfig().DispatchDeadline
	}
	return &Dispatcher{invoker: invoker, policy: policy, catalog: cat, budget: budget, deadline: deadline}
}

// Plan returns the steps that apply to req, in policy order. Steps past the
// budget are returned separately.
func (d *Dispatcher) Plan(req Request) (run, skipped []Step) {
	for _, step := range d.policy[req.Classification.Category] {
		if step.When != nil && !step.When(req) {
			continue
		}
		if len(run) < d.budget {
			run = append(run, step)
		} else {
			skipped = append(skipped, step)
		}
	}
	return run, skipped
}

// Dispatch runs the planned steps in waves: every step whose dependencies
// have settled runs concurrently with the others in its wave. The whole run
// shares one deadline that ignores cancellation of ctx, so an in-flight call
// such as an upload finishes even when the client is gone. Invocations are
// returned in policy order; the result never holds more than budget calls
// that actually ran.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []domain.ToolInvocation {
	run, skipped := d.Plan(req)
	out := make([]domain.ToolInvocation, len(run), len(run)+len(skipped))
	for _, step := range skipped {
		out = append(out, domain.ToolInvocation{ToolName: step.Tool, Status: domain.ToolStatusSkipped, Error: reasonBudget})
	}
	if len(run) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.deadline)
	defer cancel()

	planned := make(map[domain.ToolName]bool, len(run))
	for _, step := range run {
		planned[step.Tool] = true
	}

	var mu sync.Mutex
	settled := make(map[domain.ToolName]domain.ToolInvocation, len(run))
	pending := make([]int, len(run))
	for i := range run {
		pending[i] = i
	}

	for len(pending) > 0 {
		if ctx.Err() != nil {
			for _, i := range pending {
				out[i] = domain.ToolInvocation{ToolName: run[i].Tool, Status: domain.ToolStatusTimeout, Error: reasonDeadline}
			}
			break
		}

		var wave, rest []int
		for _, i := range pending {
			if d.ready(run[i], planned, settled) {
				wave = append(wave, i)
			} else {
				rest = append(rest, i)
			}
		}
		if len(wave) == 0 {
			for _, i := range rest {
				out[i] = domain.ToolInvocation{ToolName: run[i].Tool, Status: domain.ToolStatusSkipped, Error: reasonCycle}
			}
			break
		}

		// Snapshot for parameter building; the wave only reads earlier waves.
		prior := make(map[domain.ToolName]domain.ToolInvocation, len(settled))
		for k, v := range settled {
			prior[k] = v
		}

		var g errgroup.Group
		for _, i := range wave {
			step := run[i]
			g.Go(func() error {
				params := paramsFor(step.Tool, req, d.catalog, prior)
				inv := d.invoker.Invoke(ctx, step.Tool, params, req.Claims)
				mu.Lock()
				out[i] = inv
				settled[step.Tool] = inv
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		pending = rest
	}

	slog.Debug("Dispatch complete",
		"category", req.Classification.Category,
		"planned", len(run),
		"skipped", len(skipped))
	return out
}

// ready reports whether every dependency that is part of this run has settled.
func (d *Dispatcher) ready(step Step, planned map[domain.ToolName]bool, settled map[domain.ToolName]domain.ToolInvocation) bool {
	return !slices.ContainsFunc(step.After, func(dep domain.ToolName) bool {
		if !planned[dep] {
			return false
		}
		_, done := settled[dep]
		return !done
	})
}
