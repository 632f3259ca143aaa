package graph

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/chazu/flicker/pkg/transform"
)

// Catalog resolves node types to operation specs. *transform.Registry
// implements it.
type Catalog interface {
	Lookup(name string) (transform.Spec, bool)
}

// IndexNodes returns nodes keyed by id. Later duplicates win.
func IndexNodes(nodes []Node) map[NodeID]Node {
	m := make(map[NodeID]Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

// IndexIncoming groups edges by target node, preserving input order.
func IndexIncoming(edges []Edge) map[NodeID][]Edge {
	m := make(map[NodeID][]Edge)
	for _, e := range edges {
		m[e.Target] = append(m[e.Target], e)
	}
	return m
}

// Sinks returns the output sink nodes in input order.
func Sinks(nodes []Node) []Node {
	var sinks []Node
	for _, n := range nodes {
		if n.IsOutput() {
			sinks = append(sinks, n)
		}
	}
	return sinks
}

// Reachability walks backward from every output sink along incoming edges,
// feedback edges included. Anything not reached is dead.
func Reachability(nodes []Node, edges []Edge) (map[NodeID]bool, map[EdgeID]bool) {
	byID := IndexNodes(nodes)
	incoming := IndexIncoming(edges)

	liveNodes := make(map[NodeID]bool)
	liveEdges := make(map[EdgeID]bool)

	queue := make([]NodeID, 0)
	for _, s := range Sinks(nodes) {
		if !liveNodes[s.ID] {
			liveNodes[s.ID] = true
			queue = append(queue, s.ID)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range incoming[current] {
			liveEdges[e.ID] = true
			if _, ok := byID[e.Source]; !ok {
				continue
			}
			if !liveNodes[e.Source] {
				liveNodes[e.Source] = true
				queue = append(queue, e.Source)
			}
		}
	}

	return liveNodes, liveEdges
}

// OutputIndex returns the raw outputIndex value of a sink and its integer
// form. A missing key means output 0. ok is false when the value is not an
// integer.
func OutputIndex(n Node) (raw any, index int, ok bool) {
	raw, present := n.Data[OutputIndexKey]
	if !present || raw == nil {
		return 0, 0, true
	}
	index, ok = asInt(raw)
	return raw, index, ok
}

// asInt converts integer-valued numbers of any Go numeric type.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	}
	return 0, false
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// ResolveSlots picks the edges that feed a node of the given arity.
//
// Unary nodes use the first forward edge, else the first feedback edge.
// Binary nodes fill input-0 and input-1, each preferring a forward edge
// over a feedback edge; slots left empty are filled from the remaining
// edges in slot order. The result has at most arity entries, in slot order.
func ResolveSlots(inputs []Edge, arity int) []Edge {
	switch arity {
	case 0:
		return nil
	case 1:
		for _, e := range inputs {
			if !e.Feedback {
				return []Edge{e}
			}
		}
		if len(inputs) > 0 {
			return []Edge{inputs[0]}
		}
		return nil
	}

	sorted := make([]Edge, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Slot() < sorted[j].Slot()
	})

	used := make([]bool, len(sorted))
	slots := make([]*Edge, 2)
	for si, handle := range []string{HandleInput0, HandleInput1} {
		pick := -1
		for i, e := range sorted {
			if used[i] || e.Slot() != handle {
				continue
			}
			if !e.Feedback {
				pick = i
				break
			}
			if pick < 0 {
				pick = i
			}
		}
		if pick >= 0 {
			used[pick] = true
			slots[si] = &sorted[pick]
		}
	}
	for si := range slots {
		if slots[si] != nil {
			continue
		}
		for i := range sorted {
			if !used[i] {
				used[i] = true
				slots[si] = &sorted[i]
				break
			}
		}
	}

	var out []Edge
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// Upstream collects the nodes and edges a sink compiles from: the sink, its
// input edge, and recursively every resolved forward input of known nodes.
// Feedback edges are included but their sources are not followed.
func Upstream(sink Node, nodes map[NodeID]Node, incoming map[NodeID][]Edge, cat Catalog) (map[NodeID]bool, map[EdgeID]bool) {
	seenNodes := map[NodeID]bool{sink.ID: true}
	seenEdges := make(map[EdgeID]bool)

	var walk func(inputs []Edge)
	walk = func(inputs []Edge) {
		for _, e := range inputs {
			seenEdges[e.ID] = true
			if e.Feedback || seenNodes[e.Source] {
				continue
			}
			seenNodes[e.Source] = true
			n, ok := nodes[e.Source]
			if !ok {
				continue
			}
			spec, ok := cat.Lookup(n.Type)
			if !ok {
				continue
			}
			walk(ResolveSlots(incoming[n.ID], spec.Arity()))
		}
	}

	in := incoming[sink.ID]
	if len(in) == 1 {
		walk(in)
	} else {
		for _, e := range in {
			seenEdges[e.ID] = true
		}
	}
	return seenNodes, seenEdges
}
