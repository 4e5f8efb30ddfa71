package ai

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// MirrorFrame flips a frame horizontally so a capture matches the
// candidate's self-view preview.
func MirrorFrame(frame platform.Frame) (platform.Frame, error) {
	src, _, err := image.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return platform.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	b := src.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, b.Min, draw.Src)

	mirrored := image.NewRGBA(rgba.Bounds())
	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < w; x++ {
			mirrored.Set(w-1-x, y, rgba.At(x, y))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, mirrored, &jpeg.Options{Quality: 90}); err != nil {
		return platform.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	return platform.Frame{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
