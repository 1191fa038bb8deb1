package ast

import (
	"fmt"
	"sort"
)

// ResolveNodeType looks up a NodeType by its canonical key (functionName
// preferred, falling back to name), per invariant 1 and §4.3.
func (w *Workflow) ResolveNodeType(key string) (*NodeType, bool) {
	for i := range w.NodeTypes {
		nt := &w.NodeTypes[i]
		if nt.Key() == key || nt.Name == key || nt.FunctionName == key {
			return nt, true
		}
	}
	return nil, false
}

// GetNode returns the instance with the given id, or false.
func (w *Workflow) GetNode(id string) (*NodeInstance, bool) {
	for i := range w.Instances {
		if w.Instances[i].ID == id {
			return &w.Instances[i], true
		}
	}
	return nil, false
}

// GetNodes returns every instance for which filter returns true. nil
// filter returns all instances.
func (w *Workflow) GetNodes(filter func(*NodeInstance) bool) []*NodeInstance {
	out := make([]*NodeInstance, 0, len(w.Instances))
	for i := range w.Instances {
		inst := &w.Instances[i]
		if filter == nil || filter(inst) {
			out = append(out, inst)
		}
	}
	return out
}

// GetIncomingConnections returns connections whose To.Node matches id.
func (w *Workflow) GetIncomingConnections(id string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.To.Node == id {
			out = append(out, c)
		}
	}
	return out
}

// GetOutgoingConnections returns connections whose From.Node matches id.
func (w *Workflow) GetOutgoingConnections(id string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.From.Node == id {
			out = append(out, c)
		}
	}
	return out
}

// IsControlFlow reports whether a connection sequences execution, i.e.
// either endpoint carries a STEP-typed port.
func (w *Workflow) IsControlFlow(c Connection) bool {
	if fromDef, ok := w.portDef(c.From, false); ok && fromDef.DataType == Step {
		return true
	}
	if toDef, ok := w.portDef(c.To, true); ok && toDef.DataType == Step {
		return true
	}
	return false
}

// portDef resolves the PortDef backing a PortRef, looking at outputs for
// a source ref and inputs for a target ref, falling back to Start/Exit
// port maps for the reserved endpoints.
func (w *Workflow) portDef(ref PortRef, isInput bool) (PortDef, bool) {
	if ref.Node == Start {
		pd, ok := w.StartPorts[ref.Port]
		return pd, ok
	}
	if ref.Node == Exit {
		pd, ok := w.ExitPorts[ref.Port]
		return pd, ok
	}
	inst, ok := w.GetNode(ref.Node)
	if !ok {
		return PortDef{}, false
	}
	nt, ok := w.ResolveNodeType(inst.NodeType)
	if !ok {
		return PortDef{}, false
	}
	if isInput {
		pd, ok := nt.Inputs[ref.Port]
		return pd, ok
	}
	pd, ok := nt.Outputs[ref.Port]
	return pd, ok
}

// isScopedChild reports whether instance id is a per-port scoped child,
// i.e. has a Parent whose scope the parent's NodeType actually declares.
func (w *Workflow) isScopedChild(id string) bool {
	inst, ok := w.GetNode(id)
	if !ok || inst.Parent == nil {
		return false
	}
	parent, ok := w.GetNode(inst.Parent.ID)
	if !ok {
		return false
	}
	nt, ok := w.ResolveNodeType(parent.NodeType)
	if !ok {
		return false
	}
	return nt.Scope == inst.Parent.Scope
}

// mainFlowConnections returns connections excluded neither by a scope on
// either endpoint nor by touching a per-port scoped child, per §4.4
// "Topological order" edge-case policy.
func (w *Workflow) mainFlowConnections() []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.From.Scope != "" || c.To.Scope != "" {
			continue
		}
		if w.isScopedChild(c.From.Node) || w.isScopedChild(c.To.Node) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// mainFlowInstances returns instances that are not per-port scoped
// children.
func (w *Workflow) mainFlowInstances() []*NodeInstance {
	return w.GetNodes(func(n *NodeInstance) bool { return !w.isScopedChild(n.ID) })
}

// GetDependencies returns the ids that a main-flow instance id directly
// depends on: predecessors connected via a *data* edge. Control-flow
// edges, Start.execute among them, are not counted, so a predecessor
// linked only by control flow is excluded, per §4.4 edge-case policy.
func (w *Workflow) GetDependencies(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range w.mainFlowConnections() {
		if c.To.Node != id {
			continue
		}
		if c.From.Node == Start && c.From.Port == "execute" {
			continue
		}
		if w.IsControlFlow(c) {
			continue
		}
		if !seen[c.From.Node] {
			seen[c.From.Node] = true
			out = append(out, c.From.Node)
		}
	}
	return out
}

// GetDataDependencies is an alias for GetDependencies restricted to
// non-control-flow (data-carrying) edges — identical semantics, kept as
// a distinct query name per §6 because callers reason about data lineage
// separately from control flow.
func (w *Workflow) GetDataDependencies(id string) []string {
	return w.GetDependencies(id)
}

// GetDependents returns ids directly reachable from id over any
// main-flow connection (control-flow or data).
func (w *Workflow) GetDependents(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range w.mainFlowConnections() {
		if c.From.Node != id {
			continue
		}
		if !seen[c.To.Node] {
			seen[c.To.Node] = true
			out = append(out, c.To.Node)
		}
	}
	return out
}

// GetTransitiveDependencies returns every id reachable by repeatedly
// applying GetDependencies, excluding id itself.
func (w *Workflow) GetTransitiveDependencies(id string) []string {
	visited := map[string]bool{id: true}
	var order []string
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range w.GetDependencies(cur) {
			if !visited[dep] {
				visited[dep] = true
				order = append(order, dep)
				walk(dep)
			}
		}
	}
	walk(id)
	return order
}

// FindPath returns one control-flow path of instance ids from "from" to
// "to" over main-flow connections, or nil if none exists. Start/Exit may
// be used as endpoints.
func (w *Workflow) FindPath(from, to string) []string {
	type frame struct {
		node string
		path []string
	}
	visited := map[string]bool{from: true}
	queue := []frame{{from, []string{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.node == to {
			return cur.path
		}
		for _, c := range w.mainFlowConnections() {
			if c.From.Node != cur.node || !w.IsControlFlow(c) {
				continue
			}
			if visited[c.To.Node] {
				continue
			}
			visited[c.To.Node] = true
			next := append(append([]string{}, cur.path...), c.To.Node)
			queue = append(queue, frame{c.To.Node, next})
		}
	}
	return nil
}

// FindDeadEnds returns the ids of non-scoped instances whose control-flow
// output never reaches Exit, directly or transitively (§4.4).
func (w *Workflow) FindDeadEnds() []string {
	conns := w.mainFlowConnections()
	memo := map[string]bool{}
	var reachesExit func(id string, stack map[string]bool) bool
	reachesExit = func(id string, stack map[string]bool) bool {
		if id == Exit {
			return true
		}
		if v, ok := memo[id]; ok {
			return v
		}
		if stack[id] {
			return false
		}
		stack[id] = true
		defer delete(stack, id)
		found := false
		for _, c := range conns {
			if c.From.Node != id || !w.IsControlFlow(c) {
				continue
			}
			if reachesExit(c.To.Node, stack) {
				found = true
				break
			}
		}
		memo[id] = found
		return found
	}

	var deadEnds []string
	for _, inst := range w.mainFlowInstances() {
		hasOutgoingControlFlow := false
		for _, c := range conns {
			if c.From.Node == inst.ID && w.IsControlFlow(c) {
				hasOutgoingControlFlow = true
				break
			}
		}
		if !hasOutgoingControlFlow {
			deadEnds = append(deadEnds, inst.ID)
			continue
		}
		if !reachesExit(inst.ID, map[string]bool{}) {
			deadEnds = append(deadEnds, inst.ID)
		}
	}
	sort.Strings(deadEnds)
	return deadEnds
}

// FindIsolatedNodes returns non-scoped instances with no main-flow
// connection at all (neither incoming nor outgoing).
func (w *Workflow) FindIsolatedNodes() []string {
	connected := map[string]bool{}
	for _, c := range w.mainFlowConnections() {
		connected[c.From.Node] = true
		connected[c.To.Node] = true
	}
	var out []string
	for _, inst := range w.mainFlowInstances() {
		if !connected[inst.ID] {
			out = append(out, inst.ID)
		}
	}
	sort.Strings(out)
	return out
}

// FindDisconnectedOutputPorts returns "node.port" references for every
// non-control-flow, non-failure output port on a non-scoped instance
// that no connection consumes.
func (w *Workflow) FindDisconnectedOutputPorts() []string {
	consumed := map[string]bool{}
	for _, c := range w.Connections {
		consumed[c.From.Qualified()] = true
	}

	var out []string
	for _, inst := range w.mainFlowInstances() {
		nt, ok := w.ResolveNodeType(inst.NodeType)
		if !ok {
			continue
		}
		names := make([]string, 0, len(nt.Outputs))
		for name := range nt.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pd := nt.Outputs[name]
			if pd.DataType == Step || pd.Failure || pd.Scope != "" {
				continue
			}
			ref := PortRef{Node: inst.ID, Port: name}
			if !consumed[ref.Qualified()] {
				out = append(out, ref.Qualified())
			}
		}
	}
	return out
}

// GetTopologicalOrder returns a deterministic Kahn's-algorithm order of
// main-flow instance ids, tie-broken by ascending id. Returns an error
// if the main-flow subgraph contains a cycle.
func (w *Workflow) GetTopologicalOrder() ([]string, error) {
	return kahnOrder(w.mainFlowInstances(), w.mainFlowConnections())
}

func kahnOrder(instances []*NodeInstance, conns []Connection) ([]string, error) {
	inDegree := map[string]int{}
	adj := map[string][]string{}
	for _, inst := range instances {
		inDegree[inst.ID] = 0
	}
	for _, c := range conns {
		if _, ok := inDegree[c.From.Node]; !ok {
			continue
		}
		if _, ok := inDegree[c.To.Node]; !ok {
			continue
		}
		adj[c.From.Node] = append(adj[c.From.Node], c.To.Node)
		inDegree[c.To.Node]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		targets := append([]string{}, adj[next]...)
		sort.Strings(targets)
		for _, t := range targets {
			inDegree[t]--
			if inDegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if len(order) != len(instances) {
		return nil, fmt.Errorf("cycle in main flow: resolved %d of %d instances", len(order), len(instances))
	}
	return order, nil
}

// GetExecutionGroups returns the same order as GetTopologicalOrder, but
// layered: every instance in a group has zero effective in-degree once
// all prior groups are removed. Groups and instances within a group are
// tie-broken by ascending id.
func (w *Workflow) GetExecutionGroups() ([][]string, error) {
	instances := w.mainFlowInstances()
	conns := w.mainFlowConnections()

	inDegree := map[string]int{}
	adj := map[string][]string{}
	for _, inst := range instances {
		inDegree[inst.ID] = 0
	}
	for _, c := range conns {
		if _, ok := inDegree[c.From.Node]; !ok {
			continue
		}
		if _, ok := inDegree[c.To.Node]; !ok {
			continue
		}
		adj[c.From.Node] = append(adj[c.From.Node], c.To.Node)
		inDegree[c.To.Node]++
	}

	var groups [][]string
	remaining := len(instances)
	for remaining > 0 {
		var group []string
		for id, deg := range inDegree {
			if deg == 0 {
				group = append(group, id)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("cycle in main flow: %d instances unresolved", remaining)
		}
		sort.Strings(group)
		groups = append(groups, group)

		for _, id := range group {
			delete(inDegree, id)
			remaining--
			for _, t := range adj[id] {
				if _, ok := inDegree[t]; ok {
					inDegree[t]--
				}
			}
		}
	}
	return groups, nil
}

// CountNodes returns the number of node instances.
func (w *Workflow) CountNodes() int { return len(w.Instances) }

// CountConnections returns the number of connections.
func (w *Workflow) CountConnections() int { return len(w.Connections) }
