package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/arathald/mbox-to-pdf/failure"
	"github.com/arathald/mbox-to-pdf/model"
)

// ContentWidth is the printable width of a letter page with 0.75in side
// margins at 96 pixels per inch.
const ContentWidth = 672

// MaxDisplayPercent is the share of ContentWidth an image may occupy.
const MaxDisplayPercent = 95

// Formats embedded as-is; anything else is re-encoded as PNG.
var embeddable = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

type imageHandler struct {
	maxPixels int
	maxWidth  int
}

func (h imageHandler) Render(ctx context.Context, in Input) (model.Fragment, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %v", failure.ErrUnsupportedVariant, err)
		}
		return nil, fmt.Errorf("%w: %v", failure.ErrCorrupted, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", failure.ErrCorrupted, cfg.Width, cfg.Height)
	}
	if h.maxPixels > 0 && cfg.Width*cfg.Height > h.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels exceeds limit of %d", failure.ErrOversize, cfg.Width, cfg.Height, h.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", failure.ErrCorrupted, format, err)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	data := in.Data
	mediaType, ok := embeddable[format]
	if !ok || (h.maxWidth > 0 && cfg.Width > h.maxWidth) {
		if h.maxWidth > 0 && cfg.Width > h.maxWidth {
			img = scale(img, h.maxWidth)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%w: re-encode %s: %v", failure.ErrCorrupted, format, err)
		}
		data, mediaType = buf.Bytes(), "image/png"
	}

	dw, dh := DisplaySize(cfg.Width, cfg.Height)
	return &model.Image{
		MediaType:     mediaType,
		Data:          data,
		Width:         cfg.Width,
		Height:        cfg.Height,
		DisplayWidth:  dw,
		DisplayHeight: dh,
		Caption:       fmt.Sprintf("%s (%d×%d)", in.Filename, cfg.Width, cfg.Height),
	}, nil
}

// DisplaySize fits w×h within the maximum page-width fraction, keeping the aspect ratio.
func DisplaySize(w, h int) (int, int) {
	limit := ContentWidth * MaxDisplayPercent / 100
	if w <= limit {
		return w, h
	}
	return limit, max(1, h*limit/w)
}

func scale(src image.Image, width int) image.Image {
	b := src.Bounds()
	height := max(1, b.Dy()*width/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
