package patch

import (
	"fmt"
	"strings"

	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/transform"
	zygo "github.com/glycerine/zygomys/zygo"
)

// A Lisp patch is a program whose calls build nodes:
//
//	(def base (osc 30 :sync 0.2))
//	(out 0 (rotate base :angle 1.5))
//	(out 1 (blend base (prev) :amount 0.8 :id "trail"))
//
// Every operation in the registry is a builtin. Leading positional
// arguments are the node's inputs, remaining positional arguments fill
// parameters in declared order and keywords set parameters by name.
// (prev) stands for the previous frame of the output being compiled.

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// kwPrefix marks keywords rewritten into string literals.
const kwPrefix = "__kw_"

// preprocessSource rewrites patch source into something zygomys accepts:
// :name keywords become "__kw_name" strings, ; comments become // comments
// and kebab-case identifiers become snake_case. String literals are copied
// untouched.
func preprocessSource(source string) string {
	var out strings.Builder
	out.Grow(len(source) + len(source)/4)

	b := []byte(source)
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == '"' || c == '`':
			j := skipString(b, i)
			out.Write(b[i:j])
			i = j

		case c == ';':
			out.WriteString("//")
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				out.WriteByte(b[i])
				i++
			}

		case c == ':' && i+1 < len(b) && isLetter(b[i+1]):
			j := i + 1
			for j < len(b) && isKWChar(b[j]) {
				j++
			}
			out.WriteString(`"` + kwPrefix + string(b[i+1:j]) + `"`)
			i = j

		case c == '-' && i > 0 && i+1 < len(b) && isIdentChar(b[i-1]) && isLetter(b[i+1]):
			out.WriteByte('_')
			i++

		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String()
}

// skipString returns the index just past the string literal starting at i.
// Double-quoted strings honor backslash escapes; backtick strings do not.
func skipString(b []byte, i int) int {
	quote := b[i]
	j := i + 1
	for j < len(b) && b[j] != quote {
		if quote == '"' && b[j] == '\\' && j+1 < len(b) {
			j++
		}
		j++
	}
	if j < len(b) {
		j++
	}
	return j
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

// ---------------------------------------------------------------------------
// Values passed between builtins
// ---------------------------------------------------------------------------

// sexpNode refers to a node built earlier in the program.
type sexpNode struct {
	id  graph.NodeID
	typ string
}

func (n *sexpNode) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s #%s)", n.typ, n.id)
}
func (n *sexpNode) Type() *zygo.RegisteredType { return nil }

// sexpPrev is the value of (prev).
type sexpPrev struct{}

func (sexpPrev) SexpString(ps *zygo.PrintState) string { return "(prev)" }
func (sexpPrev) Type() *zygo.RegisteredType            { return nil }

// ---------------------------------------------------------------------------
// Argument parsing
// ---------------------------------------------------------------------------

type kwArgs struct {
	kw         map[string]zygo.Sexp
	order      []string // keyword names in call order
	positional []zygo.Sexp
}

func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok || !strings.HasPrefix(str.S, kwPrefix) {
		return "", false
	}
	return str.S[len(kwPrefix):], true
}

// parseArgs splits args into keywords with their values and positional
// arguments. A trailing keyword without a value is an error.
func parseArgs(args []zygo.Sexp) (kwArgs, error) {
	pa := kwArgs{kw: make(map[string]zygo.Sexp)}
	for i := 0; i < len(args); i++ {
		name, ok := isKW(args[i])
		if !ok {
			pa.positional = append(pa.positional, args[i])
			continue
		}
		if i+1 >= len(args) {
			return pa, fmt.Errorf(":%s has no value", name)
		}
		if _, dup := pa.kw[name]; dup {
			return pa, fmt.Errorf(":%s given twice", name)
		}
		pa.kw[name] = args[i+1]
		pa.order = append(pa.order, name)
		i++
	}
	return pa, nil
}

// toValue converts a literal to a node data value. Integers stay int so
// indexes remain integral.
func toValue(s zygo.Sexp) (any, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return int(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	case *zygo.SexpBool:
		return v.Val, nil
	case *zygo.SexpStr:
		return strings.TrimPrefix(v.S, kwPrefix), nil
	}
	return nil, fmt.Errorf("expected number, string or bool, got %s", s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return strings.TrimPrefix(str.S, kwPrefix), nil
	}
	return "", fmt.Errorf("expected string, got %s", s.SexpString(nil))
}

// ---------------------------------------------------------------------------
// Graph builder
// ---------------------------------------------------------------------------

type lispBuilder struct {
	reg   *transform.Registry
	nodes []graph.Node
	edges []graph.Edge
	ids   map[graph.NodeID]bool
	seq   map[string]int
}

func newLispBuilder(reg *transform.Registry) *lispBuilder {
	return &lispBuilder{
		reg: reg,
		ids: make(map[graph.NodeID]bool),
		seq: make(map[string]int),
	}
}

func (b *lispBuilder) patch() *Patch {
	return &Patch{Nodes: b.nodes, Edges: b.edges}
}

// register installs one builtin per registry operation plus out and prev.
func (b *lispBuilder) register(env *zygo.Zlisp) {
	for _, name := range b.reg.Names() {
		if name == transform.Output {
			continue
		}
		env.AddFunction(name, b.operation)
	}
	env.AddFunction(transform.Output, b.output)
	env.AddFunction("prev", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 0 {
			return zygo.SexpNull, fmt.Errorf("prev: takes no arguments")
		}
		return sexpPrev{}, nil
	})
}

// operation builds a node for any registry operation.
func (b *lispBuilder) operation(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
	spec, ok := b.reg.Lookup(name)
	if !ok {
		return zygo.SexpNull, fmt.Errorf("%s: unknown operation", name)
	}
	pa, err := parseArgs(args)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
	}

	arity := spec.Arity()
	if len(pa.positional) < arity {
		return zygo.SexpNull, fmt.Errorf("%s: expected %d input(s), got %d", name, arity, len(pa.positional))
	}
	inputs, rest := pa.positional[:arity], pa.positional[arity:]
	if len(rest) > len(spec.Params) {
		return zygo.SexpNull, fmt.Errorf("%s: takes at most %d parameter(s), got %d", name, len(spec.Params), len(rest))
	}

	data := make(map[string]any)
	for i, v := range rest {
		val, err := toValue(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %s: %w", name, spec.Params[i].Name, err)
		}
		data[spec.Params[i].Name] = val
	}

	var userID string
	for _, k := range pa.order {
		if k == "id" {
			if userID, err = toString(pa.kw[k]); err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: id: %w", name, err)
			}
			continue
		}
		if _, dup := data[k]; dup {
			return zygo.SexpNull, fmt.Errorf("%s: %s given positionally and as :%s", name, k, k)
		}
		// Unknown keys are kept; graph validation warns about them.
		val, err := toValue(pa.kw[k])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: %s: %w", name, k, err)
		}
		data[k] = val
	}

	id, err := b.nodeID(name, userID)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("%s: %w", name, err)
	}
	if err := b.connect(name, id, inputs, arity > 1); err != nil {
		return zygo.SexpNull, err
	}
	b.addNode(id, name, data)
	return &sexpNode{id: id, typ: name}, nil
}

// output builds an output sink: (out expr) or (out index expr).
func (b *lispBuilder) output(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
	pa, err := parseArgs(args)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("out: %w", err)
	}

	var index any = 0
	var input zygo.Sexp
	switch len(pa.positional) {
	case 1:
		input = pa.positional[0]
	case 2:
		if index, err = toValue(pa.positional[0]); err != nil {
			return zygo.SexpNull, fmt.Errorf("out: index: %w", err)
		}
		input = pa.positional[1]
	default:
		return zygo.SexpNull, fmt.Errorf("out: expected (out [index] expr), got %d argument(s)", len(pa.positional))
	}
	if _, ok := input.(sexpPrev); ok {
		return zygo.SexpNull, fmt.Errorf("out: (prev) must feed an operation, not an output")
	}

	var userID string
	if v, ok := pa.kw["id"]; ok {
		if userID, err = toString(v); err != nil {
			return zygo.SexpNull, fmt.Errorf("out: id: %w", err)
		}
	}
	if userID == "" {
		userID = fmt.Sprintf("out-%v", index)
		if b.ids[graph.NodeID(userID)] {
			userID = ""
		}
	}

	id, err := b.nodeID(transform.Output, userID)
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("out: %w", err)
	}
	if err := b.connect(transform.Output, id, []zygo.Sexp{input}, false); err != nil {
		return zygo.SexpNull, err
	}
	b.addNode(id, transform.Output, map[string]any{graph.OutputIndexKey: index})
	return &sexpNode{id: id, typ: transform.Output}, nil
}

// connect adds one edge per input. Binary nodes address slots explicitly.
func (b *lispBuilder) connect(op string, target graph.NodeID, inputs []zygo.Sexp, slotted bool) error {
	edges := make([]graph.Edge, 0, len(inputs))
	for i, in := range inputs {
		e := graph.Edge{Target: target}
		if slotted {
			e.TargetHandle = fmt.Sprintf("input-%d", i)
		}
		switch v := in.(type) {
		case *sexpNode:
			e.Source = v.id
		case sexpPrev:
			e.Source = target
			e.Feedback = true
		default:
			return fmt.Errorf("%s: input %d: expected a node or (prev), got %s", op, i, in.SexpString(nil))
		}
		edges = append(edges, e)
	}
	for _, e := range edges {
		e.ID = graph.EdgeID(fmt.Sprintf("e%d", len(b.edges)+1))
		b.edges = append(b.edges, e)
	}
	return nil
}

// nodeID returns want if given and unused, otherwise the next free
// <type>-<n> id.
func (b *lispBuilder) nodeID(typ, want string) (graph.NodeID, error) {
	if want != "" {
		id := graph.NodeID(want)
		if b.ids[id] {
			return "", fmt.Errorf("duplicate node id %q", want)
		}
		b.ids[id] = true
		return id, nil
	}
	for {
		b.seq[typ]++
		id := graph.NodeID(fmt.Sprintf("%s-%d", typ, b.seq[typ]))
		if !b.ids[id] {
			b.ids[id] = true
			return id, nil
		}
	}
}

func (b *lispBuilder) addNode(id graph.NodeID, typ string, data map[string]any) {
	n := graph.Node{ID: id, Type: typ}
	if len(data) > 0 {
		n.Data = data
	}
	b.nodes = append(b.nodes, n)
}
