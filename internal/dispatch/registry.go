// Package dispatch fans a decoded event out to every handler registered
// for its topic (spec §4.H), generalizing the plugin registry's
// priority-ordered single-parser-wins pattern into concurrent
// multi-subscriber delivery with per-handler failure isolation.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ocx/ingestcore/internal/tenancy"
)

// Handler is a side-effect-producing consumer of one event class (spec
// §4.H: "(tenant id, payload, event id) → error | ok").
type Handler func(ctx context.Context, tenantID string, payload []byte, eventID string) error

// registration pairs a handler with its registration order, so a
// multi-failure result can deterministically report the first-registered
// handler's error (spec §4.H, §8 property 7).
type registration struct {
	order   int
	name    string
	handler Handler
}

// Registry maps topic strings to ordered handler lists. Registration
// happens at process start-up; the intended usage is static, but Register
// is safe to call concurrently with Dispatch, mirroring the teacher's
// plugin registry's RWMutex discipline.
type Registry struct {
	// Scope, when set, opens one Scope.WithTenant transaction per handler
	// per Dispatch call (spec §4.H: "each runs inside its own withTenant"),
	// so concurrent handlers for the same event never share a *sql.Tx and
	// each commits or rolls back independently of its siblings. Left nil
	// in tests that drive handlers without a real database.
	Scope *tenancy.Scope

	mu      sync.RWMutex
	byTopic map[string][]registration
	counter int
}

func NewRegistry() *Registry {
	return &Registry{byTopic: make(map[string][]registration)}
}

// Register adds a named handler for topic. Registration order determines
// which handler's error is reported first on a multi-failure dispatch; it
// has no bearing on whether every handler runs, since all handlers for an
// event always run (spec §4.H "handlers for one event run in parallel").
func (r *Registry) Register(topic, name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	r.byTopic[topic] = append(r.byTopic[topic], registration{order: r.counter, name: name, handler: h})
}

// Topics lists the topics with at least one registered handler.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Result is the outcome of Dispatch: per-handler errors keyed by
// handler name, and the deterministic first failure.
type Result struct {
	HandlerErrors map[string]error
	FirstFailure  error
}

// OK reports whether every handler for the event succeeded.
func (r Result) OK() bool {
	return r.FirstFailure == nil
}

// Dispatch runs every handler registered for topic against the same
// event, in parallel, each isolated from the others' failures (spec
// §4.H). ctx carries the ingress pipeline's deadline; handlers are
// expected to observe ctx.Done() cooperatively. Dispatch returns once
// every handler has returned.
func (r *Registry) Dispatch(ctx context.Context, topic, tenantID string, payload []byte, eventID string) Result {
	r.mu.RLock()
	handlers := append([]registration(nil), r.byTopic[topic]...)
	r.mu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool { return handlers[i].order < handlers[j].order })

	if len(handlers) == 0 {
		return Result{HandlerErrors: map[string]error{}}
	}

	var mu sync.Mutex
	errs := make(map[string]error, len(handlers))
	var first error
	var firstOrder = int(^uint(0) >> 1)

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range handlers {
		reg := reg
		g.Go(func() error {
			runErr := r.runOne(gctx, reg.handler, tenantID, payload, eventID)
			if runErr != nil {
				mu.Lock()
				errs[reg.name] = fmt.Errorf("handler %s: %w", reg.name, runErr)
				if reg.order < firstOrder {
					firstOrder = reg.order
					first = errs[reg.name]
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return Result{HandlerErrors: errs, FirstFailure: first}
}

// runOne invokes h under its own tenant scope, if r.Scope is configured.
// Each call acquires its own connection and transaction (Scope.WithTenant
// only reuses an already-active transaction for the same tenant already
// present on ctx; a fresh per-goroutine ctx never carries one), so sibling
// handlers dispatched concurrently never touch the same *sql.Tx, and a
// handler's writes are committed only when that handler itself succeeds.
func (r *Registry) runOne(ctx context.Context, h Handler, tenantID string, payload []byte, eventID string) error {
	if r.Scope == nil {
		return h(ctx, tenantID, payload, eventID)
	}
	return r.Scope.WithTenant(ctx, tenantID, func(scopedCtx context.Context) error {
		return h(scopedCtx, tenantID, payload, eventID)
	})
}
