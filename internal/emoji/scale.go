package emoji

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"emojimk/internal/core"
)

// Downscale reads the PNG at src, resizes it to percent% of its linear size
// and writes it losslessly to dst. Each side is at least one pixel.
func Downscale(src, dst string, percent int) error {
	if percent <= 0 {
		return fmt.Errorf("scale percent must be positive, got %d", percent)
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	img, err := png.Decode(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}

	data, err := scalePNG(img, percent)
	if err != nil {
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return core.WriteFileAtomic(dst, data, 0o644)
}

func scaledSize(n, percent int) int {
	v := (n*percent + 50) / 100
	if v < 1 {
		v = 1
	}
	return v
}

func scalePNG(img image.Image, percent int) ([]byte, error) {
	b := img.Bounds()
	dstRect := image.Rect(0, 0, scaledSize(b.Dx(), percent), scaledSize(b.Dy(), percent))
	dst := image.NewNRGBA(dstRect)
	xdraw.CatmullRom.Scale(dst, dstRect, img, b, xdraw.Src, nil)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownscaleAction is the native replacement for the convert+optipng recipe.
// It scales the first dependency into the target.
func DownscaleAction(percent int) core.Action {
	return func(ctx context.Context, b *core.Binding) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(b.Deps) == 0 {
			return fmt.Errorf("%s: no source image", b.Target)
		}
		return Downscale(b.Path(b.Deps[0]), b.Path(b.Target), percent)
	}
}
