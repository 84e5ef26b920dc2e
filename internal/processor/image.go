package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support

	"github.com/disintegration/imaging"
	"github.com/genricoloni/coverled/internal/domain"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/webp" // WebP format support
)

// Decode turns encoded artwork into an image
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Fit converts img to opaque RGB, resizes it to exactly target and then shrinks it
// to fit within the panel while keeping its aspect ratio. It never upscales past the
// resized size. A zero target skips the exact resize.
func Fit(img image.Image, target image.Point, panel domain.PanelResolution) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}
	if panel.Width <= 0 || panel.Height <= 0 {
		return nil, fmt.Errorf("invalid panel resolution: %dx%d", panel.Width, panel.Height)
	}

	out := flatten(img)

	if target.X > 0 && target.Y > 0 && (bounds.Dx() != target.X || bounds.Dy() != target.Y) {
		out = imaging.Resize(out, target.X, target.Y, imaging.Lanczos)
	}

	return imaging.Fit(out, panel.Width, panel.Height, imaging.Lanczos), nil
}

// flatten drops the alpha channel by compositing onto black
func flatten(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	background := imaging.New(bounds.Dx(), bounds.Dy(), color.Black)
	return imaging.Overlay(background, img, image.Pt(0, 0), 1.0)
}
