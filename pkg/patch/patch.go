// Package patch loads node graphs from files. Patches can be written as
// the editor's YAML or JSON document, as HCL blocks, or as a Lisp program
// whose calls build the graph.
package patch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/flicker/pkg/graph"
	"github.com/chazu/flicker/pkg/logging"
	"github.com/chazu/flicker/pkg/transform"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for file extensions no loader handles.
var ErrUnsupportedFormat = errors.New("patch: unsupported format")

// Patch is a complete node graph as the editor sends it.
type Patch struct {
	Nodes []graph.Node `json:"nodes" yaml:"nodes" validate:"unique=ID,dive"`
	Edges []graph.Edge `json:"edges" yaml:"edges" validate:"unique=ID,dive"`
}

// Format names a patch encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
	FormatLisp Format = "lisp"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	case ".lisp", ".zy":
		return FormatLisp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// Load reads and parses the patch at path. reg is needed only for Lisp
// patches, whose builtins are generated from it.
func Load(ctx context.Context, path string, reg *transform.Registry) (*Patch, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}

	logging.FromContext(ctx).Debug("loading patch", "path", path, "format", format)
	p, err := Parse(ctx, format, path, src, reg)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Parse decodes src in the given format. name is used in diagnostics.
func Parse(ctx context.Context, format Format, name string, src []byte, reg *transform.Registry) (*Patch, error) {
	var (
		p   *Patch
		err error
	)
	switch format {
	case FormatYAML:
		p, err = parseYAML(src)
	case FormatJSON:
		p, err = parseJSON(src)
	case FormatHCL:
		p, err = parseHCL(name, src)
	case FormatLisp:
		p, err = NewEvaluator().Evaluate(ctx, string(src), reg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", name, err)
	}

	p.assignEdgeIDs()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("patch %s: %w", name, err)
	}
	return p, nil
}

// Marshal encodes p as YAML or JSON.
func Marshal(format Format, p *Patch) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(p)
	case FormatJSON:
		return json.MarshalIndent(p, "", "  ")
	}
	return nil, fmt.Errorf("%w: cannot encode %q", ErrUnsupportedFormat, format)
}

func parseYAML(src []byte) (*Patch, error) {
	var p Patch
	if err := yaml.Unmarshal(src, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseJSON(src []byte) (*Patch, error) {
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// assignEdgeIDs gives unnamed edges a stable id derived from their position.
func (p *Patch) assignEdgeIDs() {
	used := make(map[graph.EdgeID]bool, len(p.Edges))
	for _, e := range p.Edges {
		if e.ID != "" {
			used[e.ID] = true
		}
	}
	n := 0
	for i := range p.Edges {
		if p.Edges[i].ID != "" {
			continue
		}
		for {
			n++
			id := graph.EdgeID(fmt.Sprintf("e%d", n))
			if !used[id] {
				used[id] = true
				p.Edges[i].ID = id
				break
			}
		}
	}
}

var validate = validator.New()

// Validate checks the document shape: required ids and types, unique ids
// and valid slot handles. Graph semantics are left to graph.Validate.
func (p *Patch) Validate() error {
	err := validate.Struct(p)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid patch: %s", strings.Join(msgs, "; "))
}
