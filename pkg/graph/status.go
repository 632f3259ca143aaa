package graph

// Status is the display state of one node or edge.
type Status struct {
	HasError   bool    `json:"hasError"`
	HasWarning bool    `json:"hasWarning"` // false whenever HasError is set
	IsDead     bool    `json:"isDead"`
	Issues     []Issue `json:"issues,omitempty"`
}

// ValidationResult is the full report returned to the editor.
type ValidationResult struct {
	Issues         []Issue           `json:"issues"`
	NodeStatus     map[NodeID]Status `json:"nodeStatusById"`
	EdgeStatus     map[EdgeID]Status `json:"edgeStatusById"`
	ReachableNodes map[NodeID]bool   `json:"reachableNodes"`
	ReachableEdges map[EdgeID]bool   `json:"reachableEdges"`
}

// HasErrors reports whether any issue in the result has error severity.
func (r ValidationResult) HasErrors() bool {
	return HasErrors(r.Issues)
}

// IssuesOfKind returns the issues of one kind, in order.
func (r ValidationResult) IssuesOfKind(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// Summarize dedupes issues and builds per-node and per-edge status records.
// An edge inherits error and warning state from its source and target
// nodes; error always suppresses warning.
func Summarize(nodes []Node, edges []Edge, issues []Issue, liveNodes map[NodeID]bool, liveEdges map[EdgeID]bool) ValidationResult {
	issues = Dedupe(issues)

	byNode := make(map[NodeID][]Issue)
	byEdge := make(map[EdgeID][]Issue)
	for _, is := range issues {
		if is.NodeID != "" {
			byNode[is.NodeID] = append(byNode[is.NodeID], is)
		}
		if is.EdgeID != "" {
			byEdge[is.EdgeID] = append(byEdge[is.EdgeID], is)
		}
	}

	nodeStatus := make(map[NodeID]Status, len(nodes))
	for _, n := range nodes {
		st := Status{IsDead: !liveNodes[n.ID], Issues: byNode[n.ID]}
		st.HasError, st.HasWarning = severities(st.Issues)
		nodeStatus[n.ID] = st
	}

	edgeStatus := make(map[EdgeID]Status, len(edges))
	for _, e := range edges {
		st := Status{IsDead: !liveEdges[e.ID], Issues: byEdge[e.ID]}
		hasErr, hasWarn := severities(st.Issues)
		for _, end := range []NodeID{e.Source, e.Target} {
			if ns, ok := nodeStatus[end]; ok {
				hasErr = hasErr || ns.HasError
				hasWarn = hasWarn || ns.HasWarning
			}
		}
		st.HasError = hasErr
		st.HasWarning = hasWarn && !hasErr
		edgeStatus[e.ID] = st
	}

	if issues == nil {
		issues = []Issue{}
	}
	return ValidationResult{
		Issues:         issues,
		NodeStatus:     nodeStatus,
		EdgeStatus:     edgeStatus,
		ReachableNodes: liveNodes,
		ReachableEdges: liveEdges,
	}
}

func severities(issues []Issue) (hasErr, hasWarn bool) {
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			hasErr = true
		case SeverityWarning:
			hasWarn = true
		}
	}
	return hasErr, hasWarn && !hasErr
}
