package render_test

import (
	"image"
	"testing"

	"deedles.dev/ximage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lagoon.dev/loon/render"
	"lagoon.dev/loon/state"
)

func grayFrame(size image.Point, v uint8) *ximage.FormatImage {
	img := &ximage.FormatImage{
		Format: ximage.ARGB8888,
		Rect:   image.Rectangle{Max: size},
		Pix:    make([]byte, 4*size.X*size.Y),
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 0xFF
	}
	return img
}

func TestNewPipeline(t *testing.T) {
	stages, err := render.NewPipeline([]string{"tonemap", "gamma", "scale"}, 2.2)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "tonemap", stages[0].Name())
	assert.Equal(t, "gamma", stages[1].Name())
	assert.Equal(t, "scale", stages[2].Name())

	_, err = render.NewPipeline([]string{"sharpen"}, 1)
	assert.Error(t, err)
}

func TestGammaBrightensWithoutTouchingInput(t *testing.T) {
	out := &state.Output{Rect: image.Rect(0, 0, 4, 4), Scale: 1}
	src := grayFrame(image.Pt(4, 4), 0x40)

	got := render.Gamma{Value: 2.2}.Apply(src, out)
	assert.Greater(t, got.Pix[0], uint8(0x40), "gamma above 1 lifts midtones")
	assert.Equal(t, uint8(0xFF), got.Pix[3], "alpha is untouched")
	assert.Equal(t, uint8(0x40), src.Pix[0], "the retained target must stay linear")
}

func TestGammaIdentityIsFree(t *testing.T) {
	out := &state.Output{Rect: image.Rect(0, 0, 2, 2), Scale: 1}
	src := grayFrame(image.Pt(2, 2), 0x80)
	assert.Same(t, src, render.Gamma{Value: 1}.Apply(src, out))
}

func TestScale(t *testing.T) {
	src := grayFrame(image.Pt(4, 4), 0x80)

	same := render.Scale{}.Apply(src, &state.Output{Rect: image.Rect(0, 0, 4, 4), Scale: 1})
	assert.Same(t, src, same, "scale 1 is a no-op")

	scaled := render.Scale{}.Apply(src, &state.Output{Rect: image.Rect(0, 0, 4, 4), Scale: 2})
	assert.Equal(t, image.Pt(8, 8), scaled.Rect.Size())
}

func TestTonemapCompressesHighlights(t *testing.T) {
	out := &state.Output{Rect: image.Rect(0, 0, 2, 2), Scale: 1}
	src := grayFrame(image.Pt(2, 2), 0xFF)

	got := render.Tonemap{}.Apply(src, out)
	assert.Less(t, got.Pix[0], uint8(0xFF))
	assert.Equal(t, uint8(0xFF), src.Pix[0])
}
