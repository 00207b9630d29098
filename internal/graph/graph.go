// Package graph runs a conversation through a compiled graph of nodes, folding
// each node's patch into the thread state and checkpointing after every step.
package graph

import (
	"fmt"
	"slices"
	"sort"
)

type conditional struct {
	router Router
	routes map[string]string
}

// Graph is built with the chained methods below and validated by Compile.
// The first builder error sticks and is reported by Compile.
type Graph struct {
	name        string
	nodes       map[string]NodeFunc
	edges       map[string]string
	conditional map[string]conditional
	jumps       map[string][]string
	selfLoops   map[string]bool
	start       string
	compiled    bool
	buildErr    error
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:        name,
		nodes:       map[string]NodeFunc{},
		edges:       map[string]string{},
		conditional: map[string]conditional{},
		jumps:       map[string][]string{},
		selfLoops:   map[string]bool{},
	}
}

func (g *Graph) Name() string {
	return g.name
}

// AddNode registers fn under name.
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	if g.buildErr != nil {
		return g
	}
	switch {
	case name == "" || name == END:
		g.buildErr = fmt.Errorf("invalid node name %q", name)
	case fn == nil:
		g.buildErr = fmt.Errorf("node %q is nil", name)
	default:
		if _, exists := g.nodes[name]; exists {
			g.buildErr = fmt.Errorf("node %q already exists", name)
			return g
		}
		g.nodes[name] = fn
	}
	return g
}

// AddEdge adds the static edge from -> to. to may be END.
func (g *Graph) AddEdge(from, to string) *Graph {
	if g.buildErr != nil {
		return g
	}
	if from == "" || to == "" {
		g.buildErr = fmt.Errorf("edge endpoints are required")
		return g
	}
	if g.hasOutgoing(from) {
		g.buildErr = fmt.Errorf("node %q already has an outgoing edge", from)
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdges routes from by router's label through routes.
func (g *Graph) AddConditionalEdges(from string, router Router, routes map[string]string) *Graph {
	if g.buildErr != nil {
		return g
	}
	if router == nil || len(routes) == 0 {
		g.buildErr = fmt.Errorf("conditional edge on %q needs a router and routes", from)
		return g
	}
	if g.hasOutgoing(from) {
		g.buildErr = fmt.Errorf("node %q already has an outgoing edge", from)
		return g
	}
	copied := make(map[string]string, len(routes))
	for label, to := range routes {
		copied[label] = to
	}
	g.conditional[from] = conditional{router: router, routes: copied}
	return g
}

// AllowJumps declares targets a node may request with ContinueTo, in addition
// to its edge targets and END.
func (g *Graph) AllowJumps(from string, targets ...string) *Graph {
	if g.buildErr != nil {
		return g
	}
	g.jumps[from] = append(g.jumps[from], targets...)
	return g
}

// AllowSelfLoop permits node to route back to itself. Any other cycle fails Compile.
func (g *Graph) AllowSelfLoop(node string) *Graph {
	if g.buildErr != nil {
		return g
	}
	g.selfLoops[node] = true
	return g
}

// SetStart sets the entry node.
func (g *Graph) SetStart(name string) *Graph {
	if g.buildErr != nil {
		return g
	}
	if name == "" {
		g.buildErr = fmt.Errorf("start node name is required")
		return g
	}
	g.start = name
	return g
}

func (g *Graph) hasOutgoing(from string) bool {
	_, static := g.edges[from]
	_, cond := g.conditional[from]
	return static || cond
}

// Compile validates the topology: known endpoints, an outgoing edge on every
// node, everything reachable from start, and no cycles besides allowed self-loops.
func (g *Graph) Compile() error {
	if g.buildErr != nil {
		return g.buildErr
	}
	if g.compiled {
		return nil
	}
	if g.name == "" {
		return fmt.Errorf("graph name is required")
	}
	if len(g.nodes) == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	if _, ok := g.nodes[g.start]; !ok {
		return fmt.Errorf("start node %q does not exist", g.start)
	}

	for _, name := range g.NodeNames() {
		if !g.hasOutgoing(name) {
			return fmt.Errorf("node %q has no outgoing edge", name)
		}
	}
	for from := range g.edges {
		if err := g.checkEndpoints(from); err != nil {
			return err
		}
	}
	for from := range g.conditional {
		if err := g.checkEndpoints(from); err != nil {
			return err
		}
	}
	for from := range g.jumps {
		if err := g.checkEndpoints(from); err != nil {
			return err
		}
	}
	for node := range g.selfLoops {
		if _, ok := g.nodes[node]; !ok {
			return fmt.Errorf("self-loop node %q does not exist", node)
		}
	}

	if unreachable := g.unreachableNodes(); len(unreachable) > 0 {
		return fmt.Errorf("graph contains unreachable node(s): %v", unreachable)
	}
	if cycle := g.findCycle(); cycle != "" {
		return fmt.Errorf("graph contains a cycle through %q", cycle)
	}

	g.compiled = true
	return nil
}

func (g *Graph) checkEndpoints(from string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("edge source node %q does not exist", from)
	}
	for _, to := range g.Successors(from) {
		if to == END {
			continue
		}
		if _, ok := g.nodes[to]; !ok {
			return fmt.Errorf("edge target node %q (from %q) does not exist", to, from)
		}
	}
	return nil
}

// Successors lists every node from may hand control to, sorted. END is
// included when routed to explicitly.
func (g *Graph) Successors(from string) []string {
	var out []string
	if to, ok := g.edges[from]; ok {
		out = append(out, to)
	}
	if c, ok := g.conditional[from]; ok {
		for _, to := range c.routes {
			out = append(out, to)
		}
	}
	out = append(out, g.jumps[from]...)
	sort.Strings(out)
	return slices.Compact(out)
}

// Routes returns a copy of the conditional routing table of from, or nil.
func (g *Graph) Routes(from string) map[string]string {
	c, ok := g.conditional[from]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(c.routes))
	for label, to := range c.routes {
		out[label] = to
	}
	return out
}

// NodeNames returns node names in sorted order.
func (g *Graph) NodeNames() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start returns the entry node.
func (g *Graph) Start() string {
	return g.start
}

func (g *Graph) unreachableNodes() []string {
	visited := map[string]bool{}
	var dfs func(name string)
	dfs = func(name string) {
		if name == END || visited[name] {
			return
		}
		visited[name] = true
		for _, to := range g.Successors(name) {
			dfs(to)
		}
	}
	dfs(g.start)

	var out []string
	for _, name := range g.NodeNames() {
		if !visited[name] {
			out = append(out, name)
		}
	}
	return out
}

// findCycle returns a node on a forbidden cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(name string) string
	visit = func(name string) string {
		color[name] = gray
		for _, to := range g.Successors(name) {
			if to == END {
				continue
			}
			if to == name && g.selfLoops[name] {
				continue
			}
			switch color[to] {
			case gray:
				return to
			case white:
				if c := visit(to); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}

	for _, name := range g.NodeNames() {
		if color[name] == white {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}

func (g *Graph) allowed(from, to string) bool {
	if to == END {
		return true
	}
	return slices.Contains(g.Successors(from), to)
}

// route resolves the next node from the conditional or static edge of from.
func (g *Graph) route(from string, label string) (string, error) {
	c := g.conditional[from]
	to, ok := c.routes[label]
	if !ok {
		return "", fmt.Errorf("%w: %q from node %q", ErrUnmappedRoute, label, from)
	}
	return to, nil
}
