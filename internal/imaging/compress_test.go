package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/httprunner/ActivityUploader/internal/errs"
)

func TestFit(t *testing.T) {
	cases := []struct {
		w, h         int
		wantW, wantH int
	}{
		{800, 600, 800, 600},
		{1600, 1600, 1600, 1600},
		{3200, 1000, 1600, 500},
		{1000, 4000, 400, 1600},
		{2000, 2000, 1600, 1600},
		{5000, 1, 1600, 1},
	}
	for _, tc := range cases {
		gotW, gotH := Fit(tc.w, tc.h)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Errorf("Fit(%d,%d) = %d,%d want %d,%d", tc.w, tc.h, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

func encodePNG(t *testing.T, w, h int, fill color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCompressAlwaysJPEGWithinBounds(t *testing.T) {
	cases := []struct {
		name string
		w, h int
	}{
		{"landscape", 3000, 1200},
		{"portrait", 900, 2400},
		{"small", 640, 480},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Compress(encodePNG(t, tc.w, tc.h, color.NRGBA{R: 200, G: 30, B: 30, A: 255}))
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("decode output: %v", err)
			}
			if format != "jpeg" {
				t.Fatalf("format = %s", format)
			}
			if cfg.Width > MaxEdge || cfg.Height > MaxEdge {
				t.Fatalf("output %dx%d exceeds %d", cfg.Width, cfg.Height, MaxEdge)
			}
			srcRatio := float64(tc.w) / float64(tc.h)
			gotRatio := float64(cfg.Width) / float64(cfg.Height)
			if math.Abs(srcRatio-gotRatio) > 0.01 {
				t.Fatalf("aspect ratio %f drifted to %f", srcRatio, gotRatio)
			}
			if tc.w <= MaxEdge && tc.h <= MaxEdge && (cfg.Width != tc.w || cfg.Height != tc.h) {
				t.Fatalf("small image was resized to %dx%d", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestCompressFlattensTransparencyOnWhite(t *testing.T) {
	out, err := Compress(encodePNG(t, 32, 32, color.NRGBA{}))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := img.At(16, 16).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Fatalf("transparent pixel should become white, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	if _, err := Compress([]byte("definitely not an image")); !errs.Is(err, errs.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// withOrientation splices an EXIF APP1 segment carrying only the Orientation
// tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation byte) []byte {
	t.Helper()
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Fatalf("not a jpeg")
	}
	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // big-endian header, IFD0 at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, orientation, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	size := len(payload) + 2
	segment := append([]byte{0xFF, 0xE1, byte(size >> 8), byte(size)}, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, segment...)
	return append(out, jpg[2:]...)
}

// encodeHalves draws a JPEG whose left half is red and right half is blue.
func encodeHalves(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestCompressAppliesExifOrientationBeforeFit(t *testing.T) {
	// Orientation 6 stores a portrait photo sideways: 2000x1000 on disk,
	// 1000x2000 when displayed.
	out, err := Compress(withOrientation(t, encodeHalves(t, 2000, 1000), 6))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 800 || cfg.Height != 1600 {
		t.Fatalf("output %dx%d, want 800x1600", cfg.Width, cfg.Height)
	}
}

func TestCompressRotatesPixelsForOrientation6(t *testing.T) {
	out, err := Compress(withOrientation(t, encodeHalves(t, 200, 100), 6))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 200 {
		t.Fatalf("output %dx%d, want 100x200", b.Dx(), b.Dy())
	}
	// A quarter turn clockwise moves the red left half to the top.
	r, _, b, _ := img.At(50, 40).RGBA()
	if r>>8 < 200 || b>>8 > 60 {
		t.Fatalf("top should be red, got r=%d b=%d", r>>8, b>>8)
	}
	r, _, b, _ = img.At(50, 160).RGBA()
	if b>>8 < 200 || r>>8 > 60 {
		t.Fatalf("bottom should be blue, got r=%d b=%d", r>>8, b>>8)
	}
}

func TestCompressWithoutOrientationKeepsLayout(t *testing.T) {
	out, err := Compress(encodeHalves(t, 200, 100))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if cfg.Width != 200 || cfg.Height != 100 {
		t.Fatalf("output %dx%d, want 200x100", cfg.Width, cfg.Height)
	}
}
