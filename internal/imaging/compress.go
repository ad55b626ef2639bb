package imaging

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	imgio "github.com/disintegration/imaging"
	"github.com/httprunner/ActivityUploader/internal/errs"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxEdge bounds the longer edge of a compressed image.
	MaxEdge = 1600
	// Quality is the JPEG quality used for every re-encode.
	Quality = 70
)

// Fit returns the output size for a width x height source: the longer edge is
// scaled down to MaxEdge, the aspect ratio is kept, and images that already
// fit are left alone.
func Fit(width, height int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	if width > height {
		if width > MaxEdge {
			return MaxEdge, scaled(height, MaxEdge, width)
		}
		return width, height
	}
	if height > MaxEdge {
		return scaled(width, MaxEdge, height), MaxEdge
	}
	return width, height
}

func scaled(side, num, den int) int {
	v := int(math.Round(float64(side) * float64(num) / float64(den)))
	if v < 1 {
		return 1
	}
	return v
}

// Compress decodes data (JPEG, PNG, GIF, WebP or BMP), applies its EXIF
// orientation, shrinks it to fit MaxEdge, flattens transparency onto white and
// re-encodes it as JPEG. The output carries no EXIF, so the pixels themselves
// must already be upright.
func Compress(data []byte) ([]byte, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "unsupported or corrupt image")
	}
	src, err := imgio.Decode(bytes.NewReader(data), imgio.AutoOrientation(true))
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "unsupported or corrupt image")
	}
	bounds := src.Bounds()
	width, height := Fit(bounds.Dx(), bounds.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "encode jpeg")
	}
	log.Debug().
		Str("format", format).
		Int("src_width", bounds.Dx()).
		Int("src_height", bounds.Dy()).
		Int("width", width).
		Int("height", height).
		Int("src_bytes", len(data)).
		Int("bytes", buf.Len()).
		Msg("image compressed")
	return buf.Bytes(), nil
}
