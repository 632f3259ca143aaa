package patch

import (
	"fmt"
	"math"
	"sort"

	"github.com/chazu/flicker/pkg/graph"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclPatchFile is the top-level structure of an HCL patch:
//
//	node "o" {
//	  type      = "osc"
//	  frequency = 30
//	}
//	node "screen" {
//	  type        = "out"
//	  outputIndex = 0
//	}
//	edge {
//	  from = "o"
//	  to   = "screen"
//	}
//
// Every node attribute other than type is a data entry.
type hclPatchFile struct {
	Nodes []*hclNode `hcl:"node,block"`
	Edges []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID       string       `hcl:"id,label"`
	Type     string       `hcl:"type"`
	Position *hclPosition `hcl:"position,block"`
	Data     hcl.Body     `hcl:",remain"`
}

type hclPosition struct {
	X float64 `hcl:"x"`
	Y float64 `hcl:"y"`
}

type hclEdge struct {
	ID       *string `hcl:"id,optional"`
	From     string  `hcl:"from"`
	To       string  `hcl:"to"`
	Slot     *int    `hcl:"slot,optional"`
	Feedback *bool   `hcl:"feedback,optional"`
}

// hclEvalContext is available to data expressions, e.g. angle = pi / 4.
var hclEvalContext = &hcl.EvalContext{
	Variables: map[string]cty.Value{
		"pi":  cty.NumberFloatVal(math.Pi),
		"tau": cty.NumberFloatVal(2 * math.Pi),
	},
}

func parseHCL(name string, src []byte) (*Patch, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var parsed hclPatchFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	p := &Patch{}
	for _, hn := range parsed.Nodes {
		n, diags := hn.node()
		if diags.HasErrors() {
			return nil, fmt.Errorf("node %q: %w", hn.ID, diags)
		}
		p.Nodes = append(p.Nodes, n)
	}
	for _, he := range parsed.Edges {
		e, err := he.edge()
		if err != nil {
			return nil, err
		}
		p.Edges = append(p.Edges, e)
	}
	return p, nil
}

func (hn *hclNode) node() (graph.Node, hcl.Diagnostics) {
	n := graph.Node{ID: graph.NodeID(hn.ID), Type: hn.Type}
	if hn.Position != nil {
		n.Position = graph.Position{X: hn.Position.X, Y: hn.Position.Y}
	}

	attrs, diags := hn.Data.JustAttributes()
	if diags.HasErrors() {
		return n, diags
	}
	if len(attrs) == 0 {
		return n, diags
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	n.Data = make(map[string]any, len(attrs))
	for _, name := range names {
		attr := attrs[name]
		val, valDiags := attr.Expr.Value(hclEvalContext)
		diags = append(diags, valDiags...)
		if valDiags.HasErrors() {
			continue
		}
		native, err := ctyToNative(val)
		if err != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unsupported value",
				Detail:   fmt.Sprintf("%s: %v", name, err),
				Subject:  attr.Expr.Range().Ptr(),
			})
			continue
		}
		n.Data[name] = native
	}
	return n, diags
}

func (he *hclEdge) edge() (graph.Edge, error) {
	e := graph.Edge{Source: graph.NodeID(he.From), Target: graph.NodeID(he.To)}
	if he.ID != nil {
		e.ID = graph.EdgeID(*he.ID)
	}
	if he.Feedback != nil {
		e.Feedback = *he.Feedback
	}
	if he.Slot != nil {
		switch *he.Slot {
		case 0:
			e.TargetHandle = graph.HandleInput0
		case 1:
			e.TargetHandle = graph.HandleInput1
		default:
			return e, fmt.Errorf("edge %s -> %s: slot must be 0 or 1, got %d", he.From, he.To, *he.Slot)
		}
	}
	return e, nil
}

// ctyToNative converts a cty value to the Go types node data carries.
// Whole numbers become int so output indexes stay integral.
func ctyToNative(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == 0 {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			nv, err := ctyToNative(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = nv
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType():
		var out []any
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			nv, err := ctyToNative(v)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
}
