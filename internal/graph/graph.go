// Package graph implements the turn-orchestration engine: a declarative
// directed graph of stage functions with unconditional edges, conditional
// branching, and bounded cycles, executed concurrently with dependency-order
// guarantees.
package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/grogi/agent-server/internal/turn"
)

// End is the reserved terminal target. Routing to End finishes that path of
// the turn; the run completes once every live path has drained.
const End = "__end__"

// NodeFunc is one stage of work: it reads a subset of the turn state and
// writes the derived fields it owns. Concurrent siblings must write disjoint
// fields.
type NodeFunc func(ctx context.Context, st *turn.State) error

// Predicate inspects the turn state after a node completes and names the
// branch to follow. Predicates must consume normalized enum fields, never
// raw model text, so routing stays total.
type Predicate func(st *turn.State) string

type node struct {
	id  string
	run NodeFunc
}

type conditional struct {
	predicate Predicate
	branches  map[string][]string
}

type edgeKey struct {
	from, to string
}

// Graph is a buildable, compilable orchestration graph. Build it with
// AddNode/AddEdge/AddConditionalEdges/SetEntryPoint, then Compile once; a
// compiled graph is immutable and safe to execute concurrently for many
// turns.
type Graph struct {
	nodes map[string]*node
	edges map[string][]string // unconditional out-edges, insertion order
	conds map[string]*conditional
	entry string

	compiled bool
	// forwardPreds counts the distinct forward in-edges per node; back edges
	// (edges that close a cycle) are excluded from fan-in join counting.
	forwardPreds map[string]int
	backEdges    map[edgeKey]bool
	// loopBranches marks, per conditional, the branches whose targets lead
	// back to the conditional itself. Selecting such a branch is a
	// provisional decision: the node will run again before the loop exits,
	// so unselected targets must not be released yet.
	loopBranches map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		edges: make(map[string][]string),
		conds: make(map[string]*conditional),
	}
}

// AddNode registers a stage function under id.
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	g.nodes[id] = &node{id: id, run: fn}
	return g
}

// AddEdge declares that to runs after from completes.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges attaches a routing predicate to from. After from
// completes, the predicate selects one branch; its targets fire live, every
// other forward target of the conditional is released as skipped. A branch
// may fan out to several targets or route to End.
func (g *Graph) AddConditionalEdges(from string, pred Predicate, branches map[string][]string) *Graph {
	g.conds[from] = &conditional{predicate: pred, branches: branches}
	return g
}

// SetEntryPoint names the node the run starts from.
func (g *Graph) SetEntryPoint(id string) *Graph {
	g.entry = id
	return g
}

// outTargets returns the de-duplicated forward+back targets of id, excluding End.
func (g *Graph) outTargets(id string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t == End || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range g.edges[id] {
		add(t)
	}
	if c, ok := g.conds[id]; ok {
		keys := make([]string, 0, len(c.branches))
		for k := range c.branches {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for _, t := range c.branches[k] {
				add(t)
			}
		}
	}
	return out
}

// Compile validates the graph and resolves its join structure: it classifies
// back edges by depth-first traversal from the entry point, counts forward
// in-edges per node, and rejects cycles that contain no conditional (those
// could never terminate).
func (g *Graph) Compile() error {
	if g.entry == "" {
		return fmt.Errorf("graph: entry point not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return fmt.Errorf("graph: entry node %q not registered", g.entry)
	}
	for from, targets := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph: edge source %q not registered", from)
		}
		for _, to := range targets {
			if to != End {
				if _, ok := g.nodes[to]; !ok {
					return fmt.Errorf("graph: edge %q -> %q targets unregistered node", from, to)
				}
			}
		}
	}
	for from, c := range g.conds {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("graph: conditional source %q not registered", from)
		}
		for branch, targets := range c.branches {
			if len(targets) == 0 {
				return fmt.Errorf("graph: conditional %q branch %q has no targets", from, branch)
			}
			for _, to := range targets {
				if to != End {
					if _, ok := g.nodes[to]; !ok {
						return fmt.Errorf("graph: conditional %q branch %q targets unregistered node %q", from, branch, to)
					}
				}
			}
		}
	}

	g.classifyBackEdges()
	if err := g.validateCycles(); err != nil {
		return err
	}

	g.forwardPreds = make(map[string]int)
	for id := range g.nodes {
		g.forwardPreds[id] = 0
	}
	for from := range g.nodes {
		for _, to := range g.outTargets(from) {
			if !g.backEdges[edgeKey{from, to}] {
				g.forwardPreds[to]++
			}
		}
	}

	g.loopBranches = make(map[string]map[string]bool)
	for id, c := range g.conds {
		m := make(map[string]bool)
		for branch, targets := range c.branches {
			for _, to := range targets {
				if to != End && g.reachableFrom(to)[id] {
					m[branch] = true
					break
				}
			}
		}
		g.loopBranches[id] = m
	}

	g.compiled = true
	return nil
}

// classifyBackEdges runs an iterative DFS from the entry, marking edges that
// point at a node still on the traversal stack.
func (g *Graph) classifyBackEdges() {
	g.backEdges = make(map[edgeKey]bool)

	const (
		white = iota // unvisited
		grey         // on stack
		black        // finished
	)
	color := make(map[string]int)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		for _, to := range g.outTargets(id) {
			switch color[to] {
			case white:
				visit(to)
			case grey:
				g.backEdges[edgeKey{id, to}] = true
			}
		}
		color[id] = black
	}
	visit(g.entry)
}

// validateCycles ensures every cycle closed by a back edge passes through at
// least one conditional node, since only a predicate can break out of it.
func (g *Graph) validateCycles() error {
	for be := range g.backEdges {
		if !g.cycleHasConditional(be) {
			return fmt.Errorf("graph: cycle through %q -> %q has no conditional edge and would never terminate", be.from, be.to)
		}
	}
	return nil
}

// cycleHasConditional checks the nodes on the cycle closed by be (those
// reachable from its target that can also reach its source) for at least
// one conditional.
func (g *Graph) cycleHasConditional(be edgeKey) bool {
	reachable := g.reachableFrom(be.to)
	for id := range reachable {
		if _, ok := g.conds[id]; !ok {
			continue
		}
		// id is on the cycle if it can get back to the back edge's source.
		if id == be.from || g.reachableFrom(id)[be.from] {
			return true
		}
	}
	return false
}

// reachableFrom returns the set of nodes reachable from start, inclusive.
func (g *Graph) reachableFrom(start string) map[string]bool {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.outTargets(id)...)
	}
	return seen
}
