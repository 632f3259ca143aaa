package graph

import "github.com/chazu/flicker/pkg/transform"

// NodeID identifies a node within one patch.
type NodeID string

// EdgeID identifies an edge within one patch.
type EdgeID string

// Slot handles on binary nodes. An edge without a target handle feeds
// HandleInput0.
const (
	HandleInput0 = "input-0"
	HandleInput1 = "input-1"
)

// Reserved node types and data keys.
const (
	OutputType     = transform.Output // numbered output sink
	CameraType     = transform.Camera // camera capture source
	OutputIndexKey = "outputIndex"    // UI-only key on output sinks
)

// Position is the node's location on the editor canvas. Display only.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is one operation in the patch. Type indexes into the transform
// registry; Data holds parameter values keyed by parameter name.
type Node struct {
	ID       NodeID         `json:"id" yaml:"id" validate:"required"`
	Type     string         `json:"type" yaml:"type" validate:"required"`
	Data     map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Position Position       `json:"position" yaml:"position,omitempty"`
}

// IsOutput reports whether the node is an output sink.
func (n Node) IsOutput() bool {
	return n.Type == OutputType
}

// Edge connects Source's output to one input slot of Target. A feedback
// edge reads the previous frame of the output being compiled instead of
// Source's current value.
type Edge struct {
	ID           EdgeID `json:"id" yaml:"id" validate:"required"`
	Source       NodeID `json:"source" yaml:"source" validate:"required"`
	Target       NodeID `json:"target" yaml:"target" validate:"required"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty" validate:"omitempty,oneof=input-0 input-1"`
	Feedback     bool   `json:"isFeedback,omitempty" yaml:"isFeedback,omitempty"`
}

// Slot returns the input slot the edge feeds.
func (e Edge) Slot() string {
	if e.TargetHandle == "" {
		return HandleInput0
	}
	return e.TargetHandle
}
