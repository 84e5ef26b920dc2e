package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/zap"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		expectedError string
		width, height int
	}{
		{
			name:   "Success - JPEG",
			data:   createTestJPEG(40, 30, color.RGBA{R: 255, A: 255}),
			width:  40,
			height: 30,
		},
		{
			name:   "Success - PNG",
			data:   createTestPNG(20, 10, color.NRGBA{G: 255, A: 255}),
			width:  20,
			height: 10,
		},
		{
			name:          "Error - Invalid Image Data",
			data:          []byte("not-an-image"),
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Empty Data",
			data:          []byte{},
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Corrupted JPEG",
			data:          []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00},
			expectedError: "failed to decode image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(tt.data)

			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, b.Dx(), b.Dy())
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name          string
		src           image.Image
		target        image.Point
		panel         domain.PanelResolution
		width, height int
		expectedError string
	}{
		{
			name:   "Larger Than Panel - Aspect Preserved",
			src:    solid(600, 300, color.NRGBA{R: 200, A: 255}),
			panel:  domain.PanelResolution{Width: 128, Height: 128},
			width:  128,
			height: 64,
		},
		{
			name:   "Larger Than Panel - Tall Source",
			src:    solid(300, 900, color.NRGBA{B: 200, A: 255}),
			panel:  domain.PanelResolution{Width: 128, Height: 64},
			width:  21,
			height: 64,
		},
		{
			name:   "Exact Resize Then Thumbnail",
			src:    solid(500, 400, color.NRGBA{G: 200, A: 255}),
			target: image.Pt(256, 256),
			panel:  domain.PanelResolution{Width: 128, Height: 64},
			width:  64,
			height: 64,
		},
		{
			name:   "Exact Resize Within Panel",
			src:    solid(1000, 1000, color.NRGBA{G: 200, A: 255}),
			target: image.Pt(128, 128),
			panel:  domain.PanelResolution{Width: 128, Height: 128},
			width:  128,
			height: 128,
		},
		{
			name:   "Smaller Than Panel - No Upscale",
			src:    solid(32, 16, color.NRGBA{R: 10, G: 20, B: 30, A: 255}),
			panel:  domain.PanelResolution{Width: 128, Height: 128},
			width:  32,
			height: 16,
		},
		{
			name:          "Error - Empty Image",
			src:           image.NewNRGBA(image.Rect(0, 0, 0, 0)),
			panel:         domain.PanelResolution{Width: 128, Height: 128},
			expectedError: "invalid image dimensions",
		},
		{
			name:          "Error - Invalid Panel",
			src:           solid(10, 10, color.NRGBA{A: 255}),
			panel:         domain.PanelResolution{},
			expectedError: "invalid panel resolution",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Fit(tt.src, tt.target, tt.panel)

			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("expected error containing '%s', got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			b := out.Bounds()
			if b.Dx() != tt.width || b.Dy() != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, b.Dx(), b.Dy())
			}
			if b.Dx() > tt.panel.Width || b.Dy() > tt.panel.Height {
				t.Errorf("result %dx%d exceeds panel %dx%d", b.Dx(), b.Dy(), tt.panel.Width, tt.panel.Height)
			}
		})
	}
}

func TestFit_FlattensAlpha(t *testing.T) {
	src := solid(16, 16, color.NRGBA{R: 255, A: 0})

	out, err := Fit(src, image.Point{}, domain.PanelResolution{Width: 64, Height: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			c := out.NRGBAAt(x, y)
			if c.A != 255 {
				t.Fatalf("pixel (%d,%d) not opaque: %v", x, y, c)
			}
			if c.R != 0 {
				t.Fatalf("transparent pixel should flatten to black, got %v", c)
			}
		}
	}
}

func TestComposer_Frame(t *testing.T) {
	res := domain.PanelResolution{Width: 128, Height: 64}
	red := color.NRGBA{R: 255, A: 255}

	tests := []struct {
		name  string
		matte Matte
		check func(t *testing.T, frame *image.NRGBA)
	}{
		{
			name:  "Black Matte",
			matte: MatteBlack,
			check: func(t *testing.T, frame *image.NRGBA) {
				if c := frame.NRGBAAt(0, 0); c.R != 0 || c.G != 0 || c.B != 0 {
					t.Errorf("expected black corner, got %v", c)
				}
				if c := frame.NRGBAAt(64, 32); c.R < 200 {
					t.Errorf("expected red centre, got %v", c)
				}
			},
		},
		{
			name:  "Blur Matte",
			matte: MatteBlur,
			check: func(t *testing.T, frame *image.NRGBA) {
				if c := frame.NRGBAAt(0, 0); c.R < 200 || c.G > 50 {
					t.Errorf("expected blurred red corner, got %v", c)
				}
			},
		},
		{
			name:  "Dominant Matte",
			matte: MatteDominant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composer := NewComposer(zap.NewNop(), res, tt.matte)

			out := composer.Frame(solid(64, 64, red))

			frame, ok := out.(*image.NRGBA)
			if !ok {
				t.Fatalf("expected *image.NRGBA, got %T", out)
			}
			if b := frame.Bounds(); b.Dx() != res.Width || b.Dy() != res.Height {
				t.Fatalf("expected %dx%d, got %dx%d", res.Width, res.Height, b.Dx(), b.Dy())
			}
			if tt.check != nil {
				tt.check(t, frame)
			}
		})
	}
}

func TestComposer_Frame_ExactSizePassthrough(t *testing.T) {
	res := domain.PanelResolution{Width: 64, Height: 64}
	composer := NewComposer(zap.NewNop(), res, MatteBlur)

	src := solid(64, 64, color.NRGBA{B: 255, A: 255})
	if out := composer.Frame(src); out != image.Image(src) {
		t.Error("expected panel-sized image to be returned unchanged")
	}
}

func TestComposer_WithBlurRadius(t *testing.T) {
	res := domain.PanelResolution{Width: 8, Height: 8}

	c := NewComposer(zap.NewNop(), res, MatteBlur).WithBlurRadius(0)
	if c.blurRadius != defaultBlurRadius {
		t.Errorf("expected default radius to be kept, got %v", c.blurRadius)
	}
	if c = c.WithBlurRadius(2); c.blurRadius != 2 {
		t.Errorf("expected radius 2, got %v", c.blurRadius)
	}
}

func TestParseMatte(t *testing.T) {
	tests := []struct {
		in      string
		want    Matte
		wantErr bool
	}{
		{"", MatteBlack, false},
		{"black", MatteBlack, false},
		{"blur", MatteBlur, false},
		{"dominant", MatteDominant, false},
		{"sparkle", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMatte(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMatte(%q): unexpected error state %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMatte(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func solid(width, height int, col color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, col)
		}
	}
	return img
}

// createTestJPEG generates a simple JPEG image for testing
func createTestJPEG(width, height int, col color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, col)
		}
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80}); err != nil {
		panic("failed to create test JPEG: " + err.Error())
	}
	return buf.Bytes()
}

func createTestPNG(width, height int, col color.NRGBA) []byte {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, solid(width, height, col)); err != nil {
		panic("failed to create test PNG: " + err.Error())
	}
	return buf.Bytes()
}
