package processor

import (
	"fmt"
	"image"
	"image/color"

	"github.com/cenkalti/dominantcolor"
	"github.com/disintegration/imaging"
	"github.com/genricoloni/coverled/internal/domain"
	"go.uber.org/zap"
)

// Matte selects how the panel area around a letterboxed cover is filled
type Matte string

const (
	// MatteBlack fills with black
	MatteBlack Matte = "black"
	// MatteBlur fills with a blurred, cropped copy of the cover
	MatteBlur Matte = "blur"
	// MatteDominant fills with the cover's dominant colour
	MatteDominant Matte = "dominant"
)

const defaultBlurRadius = 6.0

// ParseMatte validates a matte name
func ParseMatte(s string) (Matte, error) {
	switch m := Matte(s); m {
	case MatteBlack, MatteBlur, MatteDominant:
		return m, nil
	case "":
		return MatteBlack, nil
	default:
		return "", fmt.Errorf("unknown matte %q", s)
	}
}

// Composer places fitted artwork on a canvas of the exact panel resolution
type Composer struct {
	logger     *zap.Logger
	res        domain.PanelResolution
	matte      Matte
	blurRadius float64
}

// NewComposer creates a composer for the given panel
func NewComposer(logger *zap.Logger, res domain.PanelResolution, matte Matte) *Composer {
	return &Composer{
		logger:     logger,
		res:        res,
		matte:      matte,
		blurRadius: defaultBlurRadius,
	}
}

// WithBlurRadius sets the sigma of the blur matte. Non-positive values keep the default.
func (c *Composer) WithBlurRadius(sigma float64) *Composer {
	if sigma > 0 {
		c.blurRadius = sigma
	}
	return c
}

// Frame centres img on a panel-sized canvas. Images that already match the panel are returned as is.
func (c *Composer) Frame(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == c.res.Width && bounds.Dy() == c.res.Height {
		return img
	}

	c.logger.Debug("Framing artwork",
		zap.Int("w", bounds.Dx()),
		zap.Int("h", bounds.Dy()),
		zap.String("matte", string(c.matte)))

	return imaging.PasteCenter(c.background(img), img)
}

func (c *Composer) background(img image.Image) *image.NRGBA {
	switch c.matte {
	case MatteBlur:
		bg := imaging.Fill(img, c.res.Width, c.res.Height, imaging.Center, imaging.Lanczos)
		return imaging.Blur(bg, c.blurRadius)
	case MatteDominant:
		return imaging.New(c.res.Width, c.res.Height, dominantcolor.Find(img))
	default:
		return imaging.New(c.res.Width, c.res.Height, color.Black)
	}
}
