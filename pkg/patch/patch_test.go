package patch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/flicker/pkg/graph"
)

const yamlPatch = `
nodes:
  - id: o
    type: osc
    data:
      frequency: 30
  - id: b
    type: blend
  - id: screen
    type: out
    data:
      outputIndex: 2
edges:
  - source: o
    target: b
    targetHandle: input-0
  - id: fb
    source: b
    target: b
    targetHandle: input-1
    isFeedback: true
  - source: b
    target: screen
`

const jsonPatch = `{
	"nodes": [
		{"id": "o", "type": "osc", "data": {"frequency": 30}, "position": {"x": 10, "y": 20}},
		{"id": "screen", "type": "out", "data": {"outputIndex": 1}}
	],
	"edges": [
		{"id": "e1", "source": "o", "target": "screen"}
	]
}`

const hclPatch = `
node "o" {
  type      = "osc"
  frequency = 30
  offset    = pi / 2

  position {
    x = 10
    y = 20
  }
}

node "b" {
  type = "blend"
}

node "screen" {
  type        = "out"
  outputIndex = 2
}

edge {
  from = "o"
  to   = "b"
  slot = 0
}

edge {
  id       = "fb"
  from     = "b"
  to       = "b"
  slot     = 1
  feedback = true
}

edge {
  from = "b"
  to   = "screen"
}
`

func parse(t *testing.T, f Format, src string) *Patch {
	t.Helper()
	p, err := Parse(context.Background(), f, "test", []byte(src), testRegistry())
	if err != nil {
		t.Fatalf("parse %s: %v", f, err)
	}
	return p
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"a.yaml", FormatYAML},
		{"a.YML", FormatYAML},
		{"dir/a.json", FormatJSON},
		{"a.hcl", FormatHCL},
		{"a.lisp", FormatLisp},
		{"a.zy", FormatLisp},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.path)
		if err != nil || got != tt.want {
			t.Errorf("FormatOf(%q) = %q, %v; want %q", tt.path, got, err, tt.want)
		}
	}
	if _, err := FormatOf("a.txt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	p := parse(t, FormatYAML, yamlPatch)

	if len(p.Nodes) != 3 || len(p.Edges) != 3 {
		t.Fatalf("got %d nodes %d edges", len(p.Nodes), len(p.Edges))
	}
	// Unnamed edges get ids in order, skipping ids already taken.
	ids := []graph.EdgeID{p.Edges[0].ID, p.Edges[1].ID, p.Edges[2].ID}
	if ids[0] != "e1" || ids[1] != "fb" || ids[2] != "e2" {
		t.Errorf("edge ids = %v", ids)
	}
	if !p.Edges[1].Feedback || p.Edges[1].TargetHandle != graph.HandleInput1 {
		t.Errorf("feedback edge = %+v", p.Edges[1])
	}

	res := graph.Validate(p.Nodes, p.Edges, 4, testRegistry())
	if len(res.Issues) != 0 {
		t.Errorf("unexpected issues: %+v", res.Issues)
	}
	_, idx, ok := graph.OutputIndex(p.Nodes[2])
	if !ok || idx != 2 {
		t.Errorf("output index = %d, %v", idx, ok)
	}
}

func TestParseJSON(t *testing.T) {
	p := parse(t, FormatJSON, jsonPatch)

	if p.Nodes[0].Position != (graph.Position{X: 10, Y: 20}) {
		t.Errorf("position = %+v", p.Nodes[0].Position)
	}
	if got, ok := p.Nodes[0].Data["frequency"].(json.Number); !ok || got.String() != "30" {
		t.Errorf("frequency = %#v", p.Nodes[0].Data["frequency"])
	}
	_, idx, ok := graph.OutputIndex(p.Nodes[1])
	if !ok || idx != 1 {
		t.Errorf("output index = %d, %v", idx, ok)
	}
}

func TestParseHCL(t *testing.T) {
	p := parse(t, FormatHCL, hclPatch)

	if len(p.Nodes) != 3 || len(p.Edges) != 3 {
		t.Fatalf("got %d nodes %d edges", len(p.Nodes), len(p.Edges))
	}
	o := p.Nodes[0]
	if o.Data["frequency"] != 30 {
		t.Errorf("frequency = %#v", o.Data["frequency"])
	}
	if off, ok := o.Data["offset"].(float64); !ok || math.Abs(off-math.Pi/2) > 1e-9 {
		t.Errorf("offset = %#v", o.Data["offset"])
	}
	if o.Position != (graph.Position{X: 10, Y: 20}) {
		t.Errorf("position = %+v", o.Position)
	}
	if _, has := o.Data["type"]; has {
		t.Error("type must not be copied into data")
	}
	if p.Nodes[1].Data != nil {
		t.Errorf("blend data = %v, want nil", p.Nodes[1].Data)
	}

	fb := p.Edges[1]
	if fb.ID != "fb" || !fb.Feedback || fb.TargetHandle != graph.HandleInput1 {
		t.Errorf("feedback edge = %+v", fb)
	}
	if p.Edges[0].ID != "e1" || p.Edges[0].TargetHandle != graph.HandleInput0 {
		t.Errorf("first edge = %+v", p.Edges[0])
	}

	res := graph.Validate(p.Nodes, p.Edges, 4, testRegistry())
	if len(res.Issues) != 0 {
		t.Errorf("unexpected issues: %+v", res.Issues)
	}
}

func TestParseHCLErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `node "o" {`, "parse"},
		{"missing type", `node "o" {}`, "decode"},
		{"bad slot", "node \"o\" {\n type = \"osc\"\n}\nedge {\n from = \"o\"\n to = \"o\"\n slot = 3\n}", "slot must be 0 or 1"},
		{"unknown variable", "node \"o\" {\n type = \"osc\"\n angle = nope\n}", "node \"o\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(context.Background(), FormatHCL, "bad.hcl", []byte(tt.src), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name string
		p    Patch
		want string
	}{
		{
			name: "missing type",
			p:    Patch{Nodes: []graph.Node{{ID: "a"}}},
			want: "Type",
		},
		{
			name: "duplicate node id",
			p:    Patch{Nodes: []graph.Node{{ID: "a", Type: "osc"}, {ID: "a", Type: "noise"}}},
			want: "unique",
		},
		{
			name: "bad handle",
			p: Patch{
				Nodes: []graph.Node{{ID: "a", Type: "osc"}},
				Edges: []graph.Edge{{ID: "e", Source: "a", Target: "a", TargetHandle: "input-7"}},
			},
			want: "oneof",
		},
		{
			name: "missing target",
			p:    Patch{Edges: []graph.Edge{{ID: "e", Source: "a"}}},
			want: "Target",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}

	ok := Patch{
		Nodes: []graph.Node{{ID: "a", Type: "osc"}, {ID: "b", Type: "out"}},
		Edges: []graph.Edge{{ID: "e", Source: "a", Target: "b"}},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid patch rejected: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"p.yaml": yamlPatch,
		"p.json": jsonPatch,
		"p.hcl":  hclPatch,
		"p.lisp": `(out 0 (osc))`,
	}
	for name, src := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		p, err := Load(context.Background(), path, testRegistry())
		if err != nil {
			t.Errorf("Load(%s): %v", name, err)
			continue
		}
		if len(p.Nodes) == 0 {
			t.Errorf("Load(%s): no nodes", name)
		}
	}

	if _, err := Load(context.Background(), filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(context.Background(), filepath.Join(dir, "p.txt"), nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p := parse(t, FormatYAML, yamlPatch)
	for _, f := range []Format{FormatYAML, FormatJSON} {
		data, err := Marshal(f, p)
		if err != nil {
			t.Fatalf("marshal %s: %v", f, err)
		}
		back := parse(t, f, string(data))
		if len(back.Nodes) != len(p.Nodes) || len(back.Edges) != len(p.Edges) {
			t.Errorf("%s: round trip lost elements", f)
		}
	}
	if _, err := Marshal(FormatHCL, p); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
