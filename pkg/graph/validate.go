package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Validate classifies every structural problem of a patch. It is a pure
// function: the same inputs always produce the same issues in the same
// order with the same messages.
//
// Only nodes reachable from an output sink are checked; dead nodes are
// reported as dead and never produce issues.
func Validate(nodes []Node, edges []Edge, numOutputs int, cat Catalog) ValidationResult {
	v := &validator{
		nodes:      IndexNodes(nodes),
		incoming:   IndexIncoming(edges),
		cat:        cat,
		numOutputs: numOutputs,
		visited:    make(map[NodeID]bool),
		onStack:    make(map[NodeID]bool),
	}

	liveNodes, liveEdges := Reachability(nodes, edges)
	sinks := Sinks(nodes)

	for _, s := range sinks {
		v.checkSink(s)
	}
	for _, s := range sinks {
		v.visit(s, Edge{})
	}
	for _, n := range nodes {
		if liveNodes[n.ID] {
			v.checkDataKeys(n)
		}
	}

	return Summarize(nodes, edges, v.issues, liveNodes, liveEdges)
}

// validator carries the indexes and per-call memo of one Validate call.
type validator struct {
	nodes      map[NodeID]Node
	incoming   map[NodeID][]Edge
	cat        Catalog
	numOutputs int

	visited map[NodeID]bool // memo, scoped to this call
	onStack map[NodeID]bool // current same-frame recursion path
	issues  []Issue
}

func (v *validator) add(kind IssueKind, sev Severity, node NodeID, edge EdgeID, format string, args ...any) {
	v.issues = append(v.issues, NewIssue(kind, sev, node, edge, nil, fmt.Sprintf(format, args...)))
}

// checkSink validates the output index and the single-input rule of an
// output sink.
func (v *validator) checkSink(n Node) {
	raw, index, ok := OutputIndex(n)
	if !ok || index < 0 || index >= v.numOutputs {
		v.add(IssueOutputIndexOutOfRange, SeverityError, n.ID, "",
			"Output index %v out of range (0…%d)", raw, v.numOutputs-1)
	}

	if got := len(v.incoming[n.ID]); got != 1 {
		v.add(IssueOutputArity, SeverityError, n.ID, "",
			"Output node %s must have exactly 1 input (found %d)", n.ID, got)
	}
}

// visit checks a node and recurses into the sources of its resolved
// forward inputs. via is the edge that led here, zero for sinks.
func (v *validator) visit(n Node, via Edge) {
	if v.onStack[n.ID] {
		v.add(IssueCycle, SeverityError, n.ID, via.ID,
			"Same-frame cycle through node %s; mark an edge as feedback to read the previous frame", n.ID)
		return
	}
	if v.visited[n.ID] {
		return
	}
	v.visited[n.ID] = true

	v.onStack[n.ID] = true
	defer delete(v.onStack, n.ID)

	inputs := v.incoming[n.ID]

	if n.IsOutput() {
		// Arity already reported by checkSink.
		if len(inputs) == 1 {
			v.follow(inputs[0])
		}
		return
	}

	spec, ok := v.cat.Lookup(n.Type)
	if !ok {
		v.add(IssueUnknownTransform, SeverityError, n.ID, "",
			"Unknown transform %q on node %s", n.Type, n.ID)
		return
	}

	arity := spec.Arity()
	if len(inputs) < arity {
		v.add(IssueNodeMissingInputs, SeverityError, n.ID, "",
			"Node %s (%s) requires %d input(s), found %d", n.ID, n.Type, arity, len(inputs))
		return
	}
	if len(inputs) > arity {
		v.add(IssueNodeExtraInputs, SeverityWarning, n.ID, "",
			"Node %s (%s) has %d inputs, only %d used", n.ID, n.Type, len(inputs), arity)
	}

	for _, e := range ResolveSlots(inputs, arity) {
		v.follow(e)
	}
}

// follow recurses into an edge's source. Feedback edges read the previous
// frame and end the branch.
func (v *validator) follow(e Edge) {
	if e.Feedback {
		return
	}
	src, ok := v.nodes[e.Source]
	if !ok {
		v.add(IssueNodeNotFound, SeverityError, e.Source, e.ID,
			"Edge %s references missing node %s", e.ID, e.Source)
		return
	}
	v.visit(src, e)
}

// checkDataKeys warns about data keys that are neither declared
// parameters nor UI-only keys.
func (v *validator) checkDataKeys(n Node) {
	spec, ok := v.cat.Lookup(n.Type)
	if !ok {
		return
	}

	var unknown []string
	for key := range n.Data {
		if spec.HasParam(key) {
			continue
		}
		if n.IsOutput() && key == OutputIndexKey {
			continue
		}
		unknown = append(unknown, key)
	}
	if len(unknown) == 0 {
		return
	}
	sort.Strings(unknown)

	quoted := make([]string, len(unknown))
	for i, k := range unknown {
		quoted[i] = fmt.Sprintf("%q", k)
	}

	expected := spec.ParamNames()
	sort.Strings(expected)
	want := "expected no parameters"
	if len(expected) > 0 {
		want = "expected one of: " + strings.Join(expected, ", ")
	}

	v.add(IssueUnknownNodeDataKey, SeverityWarning, n.ID, "",
		"Node %s (%s) has unknown data key(s) %s; %s", n.ID, n.Type, strings.Join(quoted, ", "), want)
}
