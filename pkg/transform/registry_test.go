package transform

import (
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/flicker/pkg/runtime"
)

func testDecls() []runtime.Declaration {
	return []runtime.Declaration{
		{Name: "osc", Type: "src", Inputs: []runtime.Input{
			{Name: "frequency", Type: "float", Default: 60.0},
			{Name: "sync", Type: "float", Default: 0.1},
			{Name: "offset", Type: "float", Default: 0.0},
		}},
		{Name: "rotate", Type: "coord", Inputs: []runtime.Input{
			{Name: "angle", Type: "float", Default: 10.0},
			{Name: "speed", Type: "float", Default: 0.0},
		}},
		{Name: "invert", Type: "color", Inputs: []runtime.Input{
			{Name: "amount", Type: "float", Default: 1.0},
		}},
		{Name: "blend", Type: "combine", Inputs: []runtime.Input{
			{Name: "texture", Type: "vec4"},
			{Name: "amount", Type: "float", Default: 0.5},
		}},
		{Name: "modulate", Type: "combineCoord", Inputs: []runtime.Input{
			{Name: "texture", Type: "vec4"},
			{Name: "amount", Type: "float", Default: 0.1},
		}},
	}
}

func TestKindArity(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindSource, 0},
		{KindCoord, 1},
		{KindColor, 1},
		{KindCombine, 2},
		{KindCombineCoord, 2},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Arity(); got != tt.want {
				t.Errorf("Arity() = %d, want %d", got, tt.want)
			}
			parsed, ok := ParseKind(tt.kind.String())
			if !ok || parsed != tt.kind {
				t.Errorf("ParseKind(%q) = %v, %v", tt.kind.String(), parsed, ok)
			}
		})
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := New(testDecls())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 5 declared + camera + out
	if r.Len() != 7 {
		t.Errorf("Len() = %d, want 7", r.Len())
	}

	tests := []struct {
		name   string
		arity  int
		kind   Kind
		params []string
	}{
		{"osc", 0, KindSource, []string{"frequency", "sync", "offset"}},
		{"rotate", 1, KindCoord, []string{"angle", "speed"}},
		{"invert", 1, KindColor, []string{"amount"}},
		{"blend", 2, KindCombine, []string{"amount"}},
		{"modulate", 2, KindCombineCoord, []string{"amount"}},
		{Camera, 0, KindSource, []string{"index"}},
		{Output, 1, KindColor, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arity, ok := r.ArityOf(tt.name)
			if !ok {
				t.Fatalf("ArityOf(%q) not found", tt.name)
			}
			if arity != tt.arity {
				t.Errorf("ArityOf = %d, want %d", arity, tt.arity)
			}
			kind, _ := r.KindOf(tt.name)
			if kind != tt.kind {
				t.Errorf("KindOf = %s, want %s", kind, tt.kind)
			}
			if got := r.OrderedParamNames(tt.name); !reflect.DeepEqual(got, tt.params) {
				t.Errorf("OrderedParamNames = %v, want %v", got, tt.params)
			}
			if got := r.DefaultsFor(tt.name); len(got) != len(tt.params) {
				t.Errorf("DefaultsFor has %d entries, want %d", len(got), len(tt.params))
			}
		})
	}
}

func TestBinaryDropsChainInput(t *testing.T) {
	r := MustNew(testDecls())
	for _, name := range r.OrderedParamNames("blend") {
		if name == "texture" {
			t.Fatal("chain input must not appear among user parameters")
		}
	}
	if got := r.DefaultsFor("blend"); !reflect.DeepEqual(got, []any{0.5}) {
		t.Errorf("DefaultsFor(blend) = %v, want [0.5]", got)
	}
}

func TestUnknownOperation(t *testing.T) {
	r := MustNew(testDecls())
	if _, ok := r.ArityOf("nope"); ok {
		t.Error("ArityOf(nope) should not be found")
	}
	if _, ok := r.KindOf("nope"); ok {
		t.Error("KindOf(nope) should not be found")
	}
	if r.OrderedParamNames("nope") != nil {
		t.Error("OrderedParamNames(nope) should be nil")
	}
	if r.DefaultsFor("nope") != nil {
		t.Error("DefaultsFor(nope) should be nil")
	}
}

func TestNamesSorted(t *testing.T) {
	r := MustNew(testDecls())
	want := []string{"blend", "camera", "invert", "modulate", "osc", "out", "rotate"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestOverrideConsistency(t *testing.T) {
	t.Run("matching override replaces defaults", func(t *testing.T) {
		override := Spec{Name: "rotate", Kind: KindCoord, Params: []Param{
			{Name: "angle", Default: 0.0},
			{Name: "speed", Default: 1.0},
		}}
		r, err := New(testDecls(), override)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got, _ := r.Lookup("rotate")
		if !reflect.DeepEqual(got, override) {
			t.Errorf("Lookup(rotate) = %+v, want %+v", got, override)
		}
	})

	t.Run("reordered params rejected", func(t *testing.T) {
		override := Spec{Name: "rotate", Kind: KindCoord, Params: []Param{
			{Name: "speed"}, {Name: "angle"},
		}}
		_, err := New(testDecls(), override)
		var ce *ConsistencyError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConsistencyError, got %v", err)
		}
		if ce.Name != "rotate" {
			t.Errorf("ConsistencyError.Name = %q", ce.Name)
		}
	})

	t.Run("kind mismatch rejected", func(t *testing.T) {
		override := Spec{Name: "invert", Kind: KindCoord, Params: []Param{{Name: "amount"}}}
		_, err := New(testDecls(), override)
		var ce *ConsistencyError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConsistencyError, got %v", err)
		}
	})

	t.Run("runtime out declaration diverging from synthetic", func(t *testing.T) {
		decls := append(testDecls(), runtime.Declaration{Name: Output, Type: "coord"})
		_, err := New(decls)
		var ce *ConsistencyError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConsistencyError, got %v", err)
		}
	})
}

func TestMalformedDeclarations(t *testing.T) {
	tests := []struct {
		name string
		decl runtime.Declaration
	}{
		{"empty name", runtime.Declaration{Type: "src"}},
		{"unknown type", runtime.Declaration{Name: "x", Type: "glsl"}},
		{"binary without chain input", runtime.Declaration{Name: "x", Type: "combine"}},
		{"duplicate param", runtime.Declaration{Name: "x", Type: "src", Inputs: []runtime.Input{{Name: "a"}, {Name: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New([]runtime.Declaration{tt.decl}); err == nil {
				t.Error("expected error")
			}
		})
	}

	t.Run("duplicate declaration", func(t *testing.T) {
		d := runtime.Declaration{Name: "x", Type: "src"}
		if _, err := New([]runtime.Declaration{d, d}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	if _, ok := r.Lookup("osc"); ok {
		t.Error("nil registry should not find anything")
	}
	if r.Len() != 0 || r.Names() != nil {
		t.Error("nil registry should be empty")
	}
}
