package soft

import (
	"fmt"
	"math"

	"github.com/chazu/flicker/pkg/runtime"
	"github.com/deadsy/sdfx/sdf"
	v2 "github.com/deadsy/sdfx/vec/v2"
)

// Operation kinds as declared to the registry.
const (
	kindSource       = "src"
	kindCoord        = "coord"
	kindColor        = "color"
	kindCombine      = "combine"
	kindCombineCoord = "combineCoord"
)

// textureInput is the implicit chain input of binary operations.
const textureInput = "tex"

// Per-kind building blocks. A chain is a sampler; every other kind wraps
// one or two samplers into a new sampler.
type (
	sampler    func(f *frame, p v2.Vec) rgba
	warpFn     func(f *frame, p v2.Vec) v2.Vec
	tintFn     func(f *frame, c rgba) rgba
	mixFn      func(f *frame, base, tex rgba) rgba
	displaceFn func(f *frame, p v2.Vec, tex rgba) v2.Vec
)

type param struct {
	name string
	def  float64
}

// opDef is one entry of the operation table. Exactly one builder is set,
// matching kind.
type opDef struct {
	name   string
	kind   string
	params []param

	source   func(a args) (sampler, error)
	coord    func(a args) (warpFn, error)
	color    func(a args) (tintFn, error)
	mix      func(a args) (mixFn, error)
	displace func(a args) (displaceFn, error)
}

func (d *opDef) binary() bool {
	return d.kind == kindCombine || d.kind == kindCombineCoord
}

func (d *opDef) declaration() runtime.Declaration {
	decl := runtime.Declaration{Name: d.name, Type: d.kind}
	if d.binary() {
		decl.Inputs = append(decl.Inputs, runtime.Input{Name: textureInput, Type: "vec4"})
	}
	for _, p := range d.params {
		decl.Inputs = append(decl.Inputs, runtime.Input{Name: p.name, Type: "float", Default: p.def})
	}
	return decl
}

// args are the bound user parameters of one call, defaults filled in.
type args []float64

func (a args) at(i int) float64 {
	if i < len(a) {
		return a[i]
	}
	return 0
}

// bind converts call arguments into parameter values. Missing trailing
// arguments take their defaults; nil means default too.
func (d *opDef) bind(raw []any) (args, error) {
	if len(raw) > len(d.params) {
		return nil, fmt.Errorf("%s: %d arguments, at most %d accepted", d.name, len(raw), len(d.params))
	}
	out := make(args, len(d.params))
	for i, p := range d.params {
		if i >= len(raw) || raw[i] == nil {
			out[i] = p.def
			continue
		}
		f, err := toFloat64(raw[i])
		if err != nil {
			return nil, fmt.Errorf("%s: param %s: %w", d.name, p.name, err)
		}
		out[i] = f
	}
	return out, nil
}

// toFloat64 converts a numeric argument to float64.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case interface{ Float64() (float64, error) }:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

var center = v2.Vec{X: 0.5, Y: 0.5}

// aboutCenter conjugates m so it acts around the middle of the frame.
func aboutCenter(m sdf.M33) sdf.M33 {
	return sdf.Translate2d(center).Mul(m).Mul(sdf.Translate2d(v2.Vec{X: -center.X, Y: -center.Y}))
}

// ---------------------------------------------------------------------------
// Operation table
// ---------------------------------------------------------------------------

var opTable = []*opDef{
	// sources
	{name: "osc", kind: kindSource, params: []param{{"frequency", 60}, {"sync", 0.1}, {"offset", 0}}, source: oscOp},
	{name: "solid", kind: kindSource, params: []param{{"r", 0}, {"g", 0}, {"b", 0}, {"a", 1}}, source: solidOp},
	{name: "gradient", kind: kindSource, params: []param{{"speed", 0}}, source: gradientOp},
	{name: "noise", kind: kindSource, params: []param{{"scale", 10}, {"offset", 0.1}}, source: noiseOp},
	{name: "shape", kind: kindSource, params: []param{{"sides", 3}, {"radius", 0.3}, {"smoothing", 0.01}}, source: shapeOp},

	// coordinate
	{name: "rotate", kind: kindCoord, params: []param{{"angle", 10}, {"speed", 0}}, coord: rotateOp},
	{name: "scale", kind: kindCoord, params: []param{{"amount", 1.5}, {"xMult", 1}, {"yMult", 1}, {"offsetX", 0.5}, {"offsetY", 0.5}}, coord: scaleOp},
	{name: "pixelate", kind: kindCoord, params: []param{{"pixelX", 20}, {"pixelY", 20}}, coord: pixelateOp},
	{name: "repeat", kind: kindCoord, params: []param{{"repeatX", 3}, {"repeatY", 3}, {"offsetX", 0}, {"offsetY", 0}}, coord: repeatOp},
	{name: "scroll", kind: kindCoord, params: []param{{"scrollX", 0.5}, {"scrollY", 0.5}, {"speedX", 0}, {"speedY", 0}}, coord: scrollOp},
	{name: "kaleid", kind: kindCoord, params: []param{{"nSides", 4}}, coord: kaleidOp},

	// color
	{name: "invert", kind: kindColor, params: []param{{"amount", 1}}, color: invertOp},
	{name: "brightness", kind: kindColor, params: []param{{"amount", 0.4}}, color: brightnessOp},
	{name: "contrast", kind: kindColor, params: []param{{"amount", 1.6}}, color: contrastOp},
	{name: "color", kind: kindColor, params: []param{{"r", 1}, {"g", 1}, {"b", 1}, {"a", 1}}, color: colorOp},
	{name: "posterize", kind: kindColor, params: []param{{"bins", 3}, {"gamma", 0.6}}, color: posterizeOp},
	{name: "luma", kind: kindColor, params: []param{{"threshold", 0.5}, {"tolerance", 0.1}}, color: lumaOp},
	{name: "thresh", kind: kindColor, params: []param{{"threshold", 0.5}, {"tolerance", 0.04}}, color: threshOp},
	{name: "saturate", kind: kindColor, params: []param{{"amount", 2}}, color: saturateOp},

	// combine
	{name: "add", kind: kindCombine, params: []param{{"amount", 1}}, mix: addOp},
	{name: "sub", kind: kindCombine, params: []param{{"amount", 1}}, mix: subOp},
	{name: "mult", kind: kindCombine, params: []param{{"amount", 1}}, mix: multOp},
	{name: "blend", kind: kindCombine, params: []param{{"amount", 0.5}}, mix: blendOp},
	{name: "diff", kind: kindCombine, mix: diffOp},
	{name: "layer", kind: kindCombine, mix: layerOp},
	{name: "mask", kind: kindCombine, mix: maskOp},

	// combine coordinate
	{name: "modulate", kind: kindCombineCoord, params: []param{{"amount", 0.1}}, displace: modulateOp},
	{name: "modulateRotate", kind: kindCombineCoord, params: []param{{"multiple", 1}, {"offset", 0}}, displace: modulateRotateOp},
	{name: "modulateScale", kind: kindCombineCoord, params: []param{{"multiple", 1}, {"offset", 1}}, displace: modulateScaleOp},
}

var opIndex = func() map[string]*opDef {
	m := make(map[string]*opDef, len(opTable))
	for _, d := range opTable {
		m[d.name] = d
	}
	return m
}()

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func oscOp(a args) (sampler, error) {
	freq, sync, offset := a.at(0), a.at(1), a.at(2)
	if freq == 0 {
		return nil, fmt.Errorf("osc: frequency must be non-zero")
	}
	return func(f *frame, p v2.Vec) rgba {
		x := p.X + f.t*sync
		return rgba{
			R: math.Sin((x-offset/freq)*freq)*0.5 + 0.5,
			G: math.Sin(x*freq)*0.5 + 0.5,
			B: math.Sin((x+offset/freq)*freq)*0.5 + 0.5,
			A: 1,
		}
	}, nil
}

func solidOp(a args) (sampler, error) {
	c := rgba{R: a.at(0), G: a.at(1), B: a.at(2), A: a.at(3)}
	return func(*frame, v2.Vec) rgba { return c }, nil
}

func gradientOp(a args) (sampler, error) {
	speed := a.at(0)
	return func(f *frame, p v2.Vec) rgba {
		return rgba{R: p.X, G: p.Y, B: math.Sin(f.t * speed), A: 1}
	}, nil
}

func noiseOp(a args) (sampler, error) {
	scale, offset := a.at(0), a.at(1)
	return func(f *frame, p v2.Vec) rgba {
		drift := f.t * offset
		return gray(valueNoise(p.X*scale+drift, p.Y*scale+drift*0.7))
	}, nil
}

// shapeOp rasterizes a regular polygon whose inradius is radius, in frame
// space scaled to [-1,1]. Many-sided shapes are drawn as circles.
func shapeOp(a args) (sampler, error) {
	sides, radius, smoothing := math.Floor(a.at(0)), a.at(1), math.Abs(a.at(2))
	if radius <= 0 {
		return func(*frame, v2.Vec) rgba { return gray(0) }, nil
	}
	if sides < 3 {
		sides = 3
	}

	var (
		s   sdf.SDF2
		err error
	)
	if sides >= 64 {
		s, err = sdf.Circle2D(radius)
	} else {
		n := int(sides)
		circum := radius / math.Cos(math.Pi/sides)
		verts := make([]v2.Vec, n)
		for i := range verts {
			theta := 2*math.Pi*float64(i)/sides + math.Pi/2
			verts[i] = v2.Vec{X: circum * math.Cos(theta), Y: circum * math.Sin(theta)}
		}
		s, err = sdf.Polygon2D(verts)
	}
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}

	return func(_ *frame, p v2.Vec) rgba {
		d := s.Evaluate(v2.Vec{X: p.X*2 - 1, Y: p.Y*2 - 1})
		return gray(1 - smoothstep(0, smoothing, d))
	}, nil
}

// ---------------------------------------------------------------------------
// Coordinate
// ---------------------------------------------------------------------------

func rotateOp(a args) (warpFn, error) {
	angle, speed := a.at(0), a.at(1)
	if speed == 0 {
		m := aboutCenter(sdf.Rotate2d(angle))
		return func(_ *frame, p v2.Vec) v2.Vec { return m.MulPosition(p) }, nil
	}
	return func(f *frame, p v2.Vec) v2.Vec {
		return aboutCenter(sdf.Rotate2d(angle + speed*f.t)).MulPosition(p)
	}, nil
}

func scaleOp(a args) (warpFn, error) {
	amount, xm, ym, ox, oy := a.at(0), a.at(1), a.at(2), a.at(3), a.at(4)
	sx, sy := amount*xm, amount*ym
	if sx == 0 || sy == 0 {
		return nil, fmt.Errorf("scale: amount must be non-zero")
	}
	origin := v2.Vec{X: ox, Y: oy}
	m := sdf.Translate2d(origin).
		Mul(sdf.Scale2d(v2.Vec{X: 1 / sx, Y: 1 / sy})).
		Mul(sdf.Translate2d(v2.Vec{X: -ox, Y: -oy}))
	return func(_ *frame, p v2.Vec) v2.Vec { return m.MulPosition(p) }, nil
}

func pixelateOp(a args) (warpFn, error) {
	px, py := a.at(0), a.at(1)
	if px <= 0 || py <= 0 {
		return nil, fmt.Errorf("pixelate: cell counts must be positive")
	}
	return func(_ *frame, p v2.Vec) v2.Vec {
		return v2.Vec{
			X: (math.Floor(p.X*px) + 0.5) / px,
			Y: (math.Floor(p.Y*py) + 0.5) / py,
		}
	}, nil
}

func repeatOp(a args) (warpFn, error) {
	rx, ry, ox, oy := a.at(0), a.at(1), a.at(2), a.at(3)
	return func(_ *frame, p v2.Vec) v2.Vec {
		x, y := p.X*rx, p.Y*ry
		x += math.Floor(y) * ox
		y += math.Floor(x) * oy
		return v2.Vec{X: fract(x), Y: fract(y)}
	}, nil
}

func scrollOp(a args) (warpFn, error) {
	sx, sy, vx, vy := a.at(0), a.at(1), a.at(2), a.at(3)
	return func(f *frame, p v2.Vec) v2.Vec {
		m := sdf.Translate2d(v2.Vec{X: sx + vx*f.t, Y: sy + vy*f.t})
		q := m.MulPosition(p)
		return v2.Vec{X: fract(q.X), Y: fract(q.Y)}
	}, nil
}

func kaleidOp(a args) (warpFn, error) {
	n := a.at(0)
	if n <= 0 {
		return nil, fmt.Errorf("kaleid: nSides must be positive")
	}
	wedge := 2 * math.Pi / n
	return func(_ *frame, p v2.Vec) v2.Vec {
		x, y := p.X-center.X, p.Y-center.Y
		r := math.Hypot(x, y)
		theta := math.Mod(math.Atan2(y, x), wedge)
		if theta < 0 {
			theta += wedge
		}
		theta = math.Abs(theta - wedge/2)
		return v2.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
	}, nil
}

// ---------------------------------------------------------------------------
// Color
// ---------------------------------------------------------------------------

func invertOp(a args) (tintFn, error) {
	amount := a.at(0)
	return func(_ *frame, c rgba) rgba {
		return c.mapRGB(func(v float64) float64 { return lerp(v, 1-v, amount) })
	}, nil
}

func brightnessOp(a args) (tintFn, error) {
	amount := a.at(0)
	return func(_ *frame, c rgba) rgba {
		return c.mapRGB(func(v float64) float64 { return v + amount })
	}, nil
}

func contrastOp(a args) (tintFn, error) {
	amount := a.at(0)
	return func(_ *frame, c rgba) rgba {
		return c.mapRGB(func(v float64) float64 { return (v-0.5)*amount + 0.5 })
	}, nil
}

func colorOp(a args) (tintFn, error) {
	r, g, b, al := a.at(0), a.at(1), a.at(2), a.at(3)
	return func(_ *frame, c rgba) rgba {
		return rgba{R: c.R * r, G: c.G * g, B: c.B * b, A: c.A * al}
	}, nil
}

func posterizeOp(a args) (tintFn, error) {
	bins, gamma := a.at(0), a.at(1)
	if bins <= 0 || gamma <= 0 {
		return nil, fmt.Errorf("posterize: bins and gamma must be positive")
	}
	return func(_ *frame, c rgba) rgba {
		return c.mapRGB(func(v float64) float64 {
			v = math.Pow(clamp01(v), gamma)
			v = math.Floor(v*bins) / bins
			return math.Pow(v, 1/gamma)
		})
	}, nil
}

func lumaOp(a args) (tintFn, error) {
	threshold, tolerance := a.at(0), a.at(1)+1e-7
	return func(_ *frame, c rgba) rgba {
		alpha := smoothstep(threshold-tolerance, threshold+tolerance, c.luminance())
		return rgba{R: c.R * alpha, G: c.G * alpha, B: c.B * alpha, A: alpha}
	}, nil
}

func threshOp(a args) (tintFn, error) {
	threshold, tolerance := a.at(0), a.at(1)
	return func(_ *frame, c rgba) rgba {
		v := smoothstep(threshold-tolerance, threshold+tolerance, c.luminance())
		return rgba{R: v, G: v, B: v, A: c.A}
	}, nil
}

func saturateOp(a args) (tintFn, error) {
	amount := a.at(0)
	return func(_ *frame, c rgba) rgba {
		l := c.luminance()
		return c.mapRGB(func(v float64) float64 { return lerp(l, v, amount) })
	}, nil
}

// ---------------------------------------------------------------------------
// Combine
// ---------------------------------------------------------------------------

func addOp(a args) (mixFn, error) {
	amount := a.at(0)
	return func(_ *frame, base, tex rgba) rgba {
		return rgba{R: base.R + tex.R*amount, G: base.G + tex.G*amount, B: base.B + tex.B*amount, A: base.A + tex.A*amount}
	}, nil
}

func subOp(a args) (mixFn, error) {
	amount := a.at(0)
	return func(_ *frame, base, tex rgba) rgba {
		return rgba{R: base.R - tex.R*amount, G: base.G - tex.G*amount, B: base.B - tex.B*amount, A: base.A - tex.A*amount}
	}, nil
}

func multOp(a args) (mixFn, error) {
	amount := a.at(0)
	return func(_ *frame, base, tex rgba) rgba {
		prod := rgba{R: base.R * tex.R, G: base.G * tex.G, B: base.B * tex.B, A: base.A * tex.A}
		return mixColor(base, prod, amount)
	}, nil
}

func blendOp(a args) (mixFn, error) {
	amount := a.at(0)
	return func(_ *frame, base, tex rgba) rgba {
		return mixColor(base, tex, amount)
	}, nil
}

func diffOp(args) (mixFn, error) {
	return func(_ *frame, base, tex rgba) rgba {
		return rgba{
			R: math.Abs(base.R - tex.R),
			G: math.Abs(base.G - tex.G),
			B: math.Abs(base.B - tex.B),
			A: math.Max(base.A, tex.A),
		}
	}, nil
}

func layerOp(args) (mixFn, error) {
	return func(_ *frame, base, tex rgba) rgba {
		out := mixColor(base, tex, tex.A)
		out.A = math.Max(base.A, tex.A)
		return out
	}, nil
}

func maskOp(args) (mixFn, error) {
	return func(_ *frame, base, tex rgba) rgba {
		l := tex.luminance()
		return rgba{R: base.R * l, G: base.G * l, B: base.B * l, A: base.A * l}
	}, nil
}

// ---------------------------------------------------------------------------
// Combine coordinate
// ---------------------------------------------------------------------------

func modulateOp(a args) (displaceFn, error) {
	amount := a.at(0)
	return func(_ *frame, p v2.Vec, tex rgba) v2.Vec {
		return v2.Vec{X: p.X + tex.R*amount, Y: p.Y + tex.G*amount}
	}, nil
}

func modulateRotateOp(a args) (displaceFn, error) {
	multiple, offset := a.at(0), a.at(1)
	return func(_ *frame, p v2.Vec, tex rgba) v2.Vec {
		return aboutCenter(sdf.Rotate2d(offset + tex.R*multiple)).MulPosition(p)
	}, nil
}

func modulateScaleOp(a args) (displaceFn, error) {
	multiple, offset := a.at(0), a.at(1)
	return func(_ *frame, p v2.Vec, tex rgba) v2.Vec {
		k := offset + tex.R*multiple
		if k == 0 {
			return p
		}
		return v2.Vec{X: (p.X-center.X)/k + center.X, Y: (p.Y-center.Y)/k + center.Y}
	}, nil
}
