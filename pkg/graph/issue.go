package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// IssueKind classifies a problem found in a patch.
type IssueKind string

const (
	IssueCycle                 IssueKind = "CYCLE"
	IssueNodeNotFound          IssueKind = "NODE_NOT_FOUND"
	IssueUnknownTransform      IssueKind = "UNKNOWN_TRANSFORM"
	IssueNodeMissingInputs     IssueKind = "NODE_MISSING_INPUTS"
	IssueNodeExtraInputs       IssueKind = "NODE_EXTRA_INPUTS"
	IssueOutputIndexOutOfRange IssueKind = "OUTPUT_INDEX_OUT_OF_RANGE"
	IssueOutputArity           IssueKind = "OUTPUT_ARITY"
	IssueRuntimeExecutionError IssueKind = "RUNTIME_EXECUTION_ERROR"
	IssueUnknownNodeDataKey    IssueKind = "UNKNOWN_NODE_DATA_KEY"
)

// Severity indicates whether an issue blocks compilation.
type Severity int

const (
	SeverityError   Severity = iota // blocks compilation of the affected sink
	SeverityWarning                 // informational
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// MarshalText encodes the severity as "error" or "warning".
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "error" or "warning".
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	default:
		return fmt.Errorf("unknown severity %q", b)
	}
	return nil
}

// Issue is one validation or execution finding.
type Issue struct {
	Key         string    `json:"key"`
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	NodeID      NodeID    `json:"nodeId,omitempty"`
	EdgeID      EdgeID    `json:"edgeId,omitempty"`
	OutputIndex *int      `json:"outputIndex,omitempty"`
}

func (i Issue) Error() string {
	if i.NodeID == "" {
		return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Kind, i.Message)
	}
	return fmt.Sprintf("[%s] %s node %s: %s", i.Severity, i.Kind, i.NodeID, i.Message)
}

// IssueKey builds the dedupe key for an issue from its kind and the
// identifiers it involves. The same root cause reported along several paths
// produces the same key.
func IssueKey(kind IssueKind, node NodeID, edge EdgeID, outputIndex *int) string {
	out := "-"
	if outputIndex != nil {
		out = strconv.Itoa(*outputIndex)
	}
	return strings.Join([]string{string(kind), string(node), string(edge), out}, "|")
}

// NewIssue returns an issue with its key filled in.
func NewIssue(kind IssueKind, sev Severity, node NodeID, edge EdgeID, outputIndex *int, msg string) Issue {
	return Issue{
		Key:         IssueKey(kind, node, edge, outputIndex),
		Kind:        kind,
		Severity:    sev,
		Message:     msg,
		NodeID:      node,
		EdgeID:      edge,
		OutputIndex: outputIndex,
	}
}

// Dedupe keeps the first issue for every key, preserving order.
func Dedupe(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	out := make([]Issue, 0, len(issues))
	for _, is := range issues {
		if is.Key == "" {
			is.Key = IssueKey(is.Kind, is.NodeID, is.EdgeID, is.OutputIndex)
		}
		if seen[is.Key] {
			continue
		}
		seen[is.Key] = true
		out = append(out, is)
	}
	return out
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}
