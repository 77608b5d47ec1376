package render

import (
	"fmt"
	"image"
	"math"
	"slices"

	"deedles.dev/ximage"
	xdraw "golang.org/x/image/draw"
	"lagoon.dev/loon/state"
)

// Stage is one full-frame post-processing pass. Each stage consumes
// the previous stage's output image and returns its own; a stage may
// return its input unchanged if it has nothing to do. The stage
// order is configuration, not law.
type Stage interface {
	Name() string
	Apply(src *ximage.FormatImage, out *state.Output) *ximage.FormatImage
}

// NewPipeline builds the ordered post-processing pipeline from stage
// names, as listed in the render.pipeline config key.
func NewPipeline(names []string, gamma float64) ([]Stage, error) {
	stages := make([]Stage, 0, len(names))
	for _, name := range names {
		switch name {
		case "tonemap":
			stages = append(stages, Tonemap{})
		case "gamma":
			stages = append(stages, Gamma{Value: gamma})
		case "scale":
			stages = append(stages, Scale{})
		default:
			return nil, fmt.Errorf("unknown post-processing stage %q", name)
		}
	}
	return stages, nil
}

func newTarget(size image.Point) *ximage.FormatImage {
	return &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rectangle{Max: size},
		Pix:    make([]byte, 4*size.X*size.Y),
	}
}

// channels applies f to every color channel byte of a copy of the
// frame, leaving alpha alone. The input is the scheduler's retained
// composite target and must not be curved in place, or undamaged
// pixels would be curved again on the next partial repaint.
func channels(img *ximage.FormatImage, f [256]uint8) *ximage.FormatImage {
	dst := &ximage.FormatImage{Format: img.Format, Rect: img.Rect, Pix: slices.Clone(img.Pix)}
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		dst.Pix[i] = f[dst.Pix[i]]
		dst.Pix[i+1] = f[dst.Pix[i+1]]
		dst.Pix[i+2] = f[dst.Pix[i+2]]
	}
	return dst
}

// Tonemap is the reference tone-mapping pass: a soft shoulder that
// compresses the top of the range. The real curves are plugin
// territory; the scheduler only cares that it is a full-frame pass.
type Tonemap struct{}

func (Tonemap) Name() string { return "tonemap" }

func (t Tonemap) Apply(src *ximage.FormatImage, out *state.Output) *ximage.FormatImage {
	var lut [256]uint8
	for i := range lut {
		v := float64(i) / 255
		lut[i] = uint8(math.Round(255 * v / (1 + v*0.18)))
	}
	return channels(src, lut)
}

// Gamma applies an output gamma curve.
type Gamma struct {
	Value float64
}

func (Gamma) Name() string { return "gamma" }

func (g Gamma) Apply(src *ximage.FormatImage, out *state.Output) *ximage.FormatImage {
	if g.Value == 0 || g.Value == 1 {
		return src
	}
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(math.Round(255 * math.Pow(float64(i)/255, 1/g.Value)))
	}
	return channels(src, lut)
}

// Scale resizes the logical frame to the output's device pixel size.
// On scale factor 1 it is a no-op.
type Scale struct{}

func (Scale) Name() string { return "scale" }

func (Scale) Apply(src *ximage.FormatImage, out *state.Output) *ximage.FormatImage {
	if out.Scale == 1 {
		return src
	}
	dst := newTarget(out.PixelSize())
	xdraw.ApproxBiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst
}
