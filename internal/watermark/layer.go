package watermark

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// RenderLayer draws the layer image into a transparent canvas the size of
// the layer frame and writes it as PNG under dir. The image keeps its aspect
// ratio and is centered in the frame; opacity is baked into the alpha channel.
func RenderLayer(l Layer, dir string, name string) (string, error) {
	_, _, w, h := l.Frame.pixels()
	if w <= 0 || h <= 0 {
		return "", fmt.Errorf("render layer %s: empty frame %dx%d", l.Image, w, h)
	}

	src, err := loadImage(l.Image)
	if err != nil {
		return "", err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(canvas, fitRect(src.Bounds(), w, h), src, src.Bounds(), draw.Over, nil)

	if alpha := l.Opacity; alpha > 0 && alpha < 1 {
		applyOpacity(canvas, alpha)
	}

	outPath := filepath.Join(dir, name)
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create layer file: %w", err)
	}
	if err := png.Encode(f, canvas); err != nil {
		f.Close()
		os.Remove(outPath)
		return "", fmt.Errorf("encode layer %s: %w", outPath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close layer file: %w", err)
	}
	return outPath, nil
}

// ImageSize returns the pixel dimensions of an image file.
func ImageSize(path string) (Size, error) {
	f, err := os.Open(path)
	if err != nil {
		return Size{}, fmt.Errorf("open watermark image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Size{}, fmt.Errorf("decode watermark image %s: %w", path, err)
	}
	return Size{Width: float64(cfg.Width), Height: float64(cfg.Height)}, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open watermark image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode watermark image %s: %w", path, err)
	}
	return img, nil
}

// fitRect is the largest rectangle with the source aspect ratio that fits
// inside w x h, centered.
func fitRect(src image.Rectangle, w, h int) image.Rectangle {
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw == 0 || sh == 0 {
		return image.Rect(0, 0, w, h)
	}
	scale := math.Min(float64(w)/sw, float64(h)/sh)
	fw := int(math.Round(sw * scale))
	fh := int(math.Round(sh * scale))
	x := (w - fw) / 2
	y := (h - fh) / 2
	return image.Rect(x, y, x+fw, y+fh)
}

// applyOpacity scales every premultiplied channel by alpha.
func applyOpacity(img *image.RGBA, alpha float64) {
	for i := range img.Pix {
		img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * alpha))
	}
}
