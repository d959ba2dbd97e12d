package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/grogi/agent-server/internal/turn"
)

// Observer receives node lifecycle signals during a run. Callbacks are
// invoked from the coordinator goroutine, one at a time, in scheduling order.
type Observer interface {
	NodeStarted(id string)
	NodeFinished(id string, st *turn.State, err error)
	NodeSkipped(id string)
}

// NopObserver ignores all signals.
type NopObserver struct{}

func (NopObserver) NodeStarted(string) {}

func (NopObserver) NodeFinished(string, *turn.State, error) {}

func (NopObserver) NodeSkipped(string) {}

type nodeState int

const (
	statePending nodeState = iota
	stateRunning
	stateDone
	stateSkipped
)

// Executor runs a compiled graph against one turn state.
type Executor struct {
	graph *Graph
}

// NewExecutor wraps a compiled graph. The same executor serves many turns;
// all per-run bookkeeping lives inside Run.
func NewExecutor(g *Graph) (*Executor, error) {
	if !g.compiled {
		return nil, fmt.Errorf("graph: executor requires a compiled graph")
	}
	return &Executor{graph: g}, nil
}

type run struct {
	g   *Graph
	st  *turn.State
	obs Observer

	states    map[string]nodeState
	pending   map[string]int      // outstanding forward in-edges
	liveFired map[string]bool     // at least one in-edge fired live
	fired     map[edgeKey]bool    // forward edge already counted
	rerun     map[string]bool     // re-entry requested while running
	inFlight  int
	results   chan result
}

type result struct {
	id  string
	err error
}

// Run executes the graph for one turn. Stage errors are soft: the node is
// treated as completed with degraded output and the run continues. Only
// context cancellation (client disconnect, turn timeout) aborts the run.
func (e *Executor) Run(ctx context.Context, st *turn.State, obs Observer) error {
	if obs == nil {
		obs = NopObserver{}
	}
	r := &run{
		g:         e.graph,
		st:        st,
		obs:       obs,
		states:    make(map[string]nodeState, len(e.graph.nodes)),
		pending:   make(map[string]int, len(e.graph.nodes)),
		liveFired: make(map[string]bool, len(e.graph.nodes)),
		fired:     make(map[edgeKey]bool),
		rerun:     make(map[string]bool),
		results:   make(chan result, len(e.graph.nodes)),
	}
	for id, n := range e.graph.forwardPreds {
		r.pending[id] = n
	}

	r.schedule(ctx, e.graph.entry)
	for r.inFlight > 0 {
		res := <-r.results
		r.inFlight--
		r.states[res.id] = stateDone

		if res.err != nil {
			if ctx.Err() != nil {
				// Drain nothing further; in-flight siblings observe the same
				// cancellation and the caller owns the error surface.
				obs.NodeFinished(res.id, st, ctx.Err())
				return fmt.Errorf("graph: run aborted at %q: %w", res.id, ctx.Err())
			}
			// Soft failure: the stage has written its degraded sentinel;
			// downstream fan-in proceeds with what it has.
			slog.Warn("Stage failed, continuing with degraded output", "node", res.id, "error", res.err)
		}
		obs.NodeFinished(res.id, st, res.err)

		if r.rerun[res.id] {
			delete(r.rerun, res.id)
			r.schedule(ctx, res.id)
			continue
		}
		r.route(ctx, res.id)
	}
	return ctx.Err()
}

// schedule launches a node. Each node runs in its own goroutine; the
// coordinator loop in Run serializes all bookkeeping.
func (r *run) schedule(ctx context.Context, id string) {
	n := r.g.nodes[id]
	r.states[id] = stateRunning
	r.inFlight++
	r.obs.NodeStarted(id)
	go func() {
		r.results <- result{id: id, err: n.run(ctx, r.st)}
	}()
}

// route fires the out-edges of a completed node: unconditional edges fire
// live, and the conditional (if any) fires its selected branch live while
// releasing the remaining forward targets as skipped.
func (r *run) route(ctx context.Context, id string) {
	for _, to := range r.g.edges[id] {
		r.fire(ctx, id, to, true)
	}
	c, ok := r.g.conds[id]
	if !ok {
		return
	}
	branch := c.predicate(r.st)
	targets, ok := c.branches[branch]
	if !ok {
		slog.Warn("Conditional predicate selected unknown branch, routing to end", "node", id, "branch", branch)
	}
	selected := make(map[string]bool, len(targets))
	for _, to := range targets {
		selected[to] = true
		r.fire(ctx, id, to, true)
	}
	if r.g.loopBranches[id][branch] {
		// The selected branch loops back here; this node decides again
		// before the loop exits, so unselected targets stay held.
		return
	}
	// Release every unselected forward target so fan-in joins do not wait on
	// a branch that was never taken.
	for _, to := range r.condTargets(c) {
		if !selected[to] && !r.g.backEdges[edgeKey{id, to}] {
			r.fire(ctx, id, to, false)
		}
	}
}

func (r *run) condTargets(c *conditional) []string {
	seen := make(map[string]bool)
	var out []string
	keys := make([]string, 0, len(c.branches))
	for k := range c.branches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, to := range c.branches[k] {
			if to != End && !seen[to] {
				seen[to] = true
				out = append(out, to)
			}
		}
	}
	return out
}

// fire delivers one edge signal to a target node. Forward edges decrement the
// target's join counter exactly once; a live signal re-delivered over an
// already-counted edge upgrades a skip or re-enters a completed node. Back
// edges bypass join counting entirely and re-schedule their target directly.
func (r *run) fire(ctx context.Context, from, to string, live bool) {
	if to == End {
		return
	}
	if r.g.backEdges[edgeKey{from, to}] {
		if live {
			r.reenter(ctx, to)
		}
		return
	}

	k := edgeKey{from, to}
	if !r.fired[k] {
		r.fired[k] = true
		r.pending[to]--
		if live {
			r.liveFired[to] = true
		}
	} else if live {
		r.liveFired[to] = true
	}

	if r.pending[to] > 0 {
		return
	}
	switch r.states[to] {
	case statePending:
		if r.liveFired[to] {
			r.schedule(ctx, to)
		} else {
			r.skip(ctx, to)
		}
	case stateDone, stateSkipped:
		if live {
			// Cycle re-entry, or resurrection of a branch released as
			// skipped on an earlier pass of a conditional.
			r.schedule(ctx, to)
		}
	case stateRunning:
		if live {
			r.rerun[to] = true
		}
	}
}

// reenter re-runs the target of a back edge, deferring if it is mid-flight.
func (r *run) reenter(ctx context.Context, id string) {
	if r.states[id] == stateRunning {
		r.rerun[id] = true
		return
	}
	r.schedule(ctx, id)
}

// skip marks a node as not-run for this turn and releases its own forward
// out-edges as skipped, so entire unselected subtrees drain without running.
func (r *run) skip(ctx context.Context, id string) {
	r.states[id] = stateSkipped
	r.obs.NodeSkipped(id)
	for _, to := range r.g.outTargets(id) {
		if !r.g.backEdges[edgeKey{id, to}] {
			r.fire(ctx, id, to, false)
		}
	}
}
