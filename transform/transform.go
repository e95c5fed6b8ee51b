package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	apperrors "github.com/kbukum/imgflow/errors"
	"github.com/kbukum/imgflow/stage"
)

// Transformer applies one stage to an encoded image and returns the result
// encoded in the same format. Implementations must be pure: the same input
// and params always give the same pixels.
type Transformer interface {
	Transform(ctx context.Context, img []byte, kind string, params stage.Params) ([]byte, error)
}

// JPEGQuality is used when re-encoding JPEG output.
const JPEGQuality = 95

// Imaging implements Transformer with github.com/disintegration/imaging.
type Imaging struct{}

// NewImaging returns the imaging-based transformer.
func NewImaging() *Imaging { return &Imaging{} }

var _ Transformer = (*Imaging)(nil)

// Transform decodes img, applies kind and re-encodes in the source format.
// Every failure is a TRANSFORM_FAILED AppError.
func (t *Imaging) Transform(ctx context.Context, img []byte, kind string, params stage.Params) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.TransformFailed(kind, err)
	}

	_, formatName, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, apperrors.TransformFailed(kind, fmt.Errorf("unrecognised image: %w", err))
	}
	format, err := imaging.FormatFromExtension(formatName)
	if err != nil {
		return nil, apperrors.TransformFailed(kind, err)
	}
	src, err := imaging.Decode(bytes.NewReader(img), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.TransformFailed(kind, fmt.Errorf("decode: %w", err))
	}

	out, err := Apply(src, kind, params)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, apperrors.TransformFailed(kind, fmt.Errorf("encode: %w", err))
	}
	return buf.Bytes(), nil
}

// Apply runs the pixel operation for kind on a decoded image.
func Apply(src image.Image, kind string, params stage.Params) (*image.NRGBA, error) {
	switch kind {
	case stage.Grayscale:
		return imaging.Grayscale(src), nil
	case stage.GaussianBlur:
		return imaging.Blur(src, params.Sigma), nil
	case stage.Sharpen:
		return imaging.Sharpen(src, params.Sigma), nil
	case stage.MultiplyBrightness:
		f := params.Factor
		return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{R: scale(c.R, f), G: scale(c.G, f), B: scale(c.B, f), A: c.A}
		}), nil
	case stage.ChangeColorTemp:
		r, g, b := KelvinToRGB(params.Kelvin)
		return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
			return color.NRGBA{R: scale(c.R, r), G: scale(c.G, g), B: scale(c.B, b), A: c.A}
		}), nil
	case stage.Flip:
		if params.Direction == stage.FlipVertical {
			return imaging.FlipV(src), nil
		}
		return imaging.FlipH(src), nil
	default:
		return nil, apperrors.TransformFailed(kind, fmt.Errorf("no transform for stage kind %q", kind))
	}
}

// KelvinToRGB returns per-channel multipliers in [0,1] for a black body at
// the given temperature, after Tanner Helland's approximation.
func KelvinToRGB(kelvin float64) (r, g, b float64) {
	t := kelvin / 100

	if t <= 66 {
		r = 255
		g = 99.4708025861*math.Log(t) - 161.1195681661
	} else {
		r = 329.698727446 * math.Pow(t-60, -0.1332047592)
		g = 288.1221695283 * math.Pow(t-60, -0.0755148492)
	}

	switch {
	case t >= 66:
		b = 255
	case t <= 19:
		b = 0
	default:
		b = 138.5177312231*math.Log(t-10) - 305.0447927307
	}

	return clamp01(r / 255), clamp01(g / 255), clamp01(b / 255)
}

func scale(v uint8, f float64) uint8 {
	x := math.Round(float64(v) * f)
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
