package ai

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os/exec"
	"sync"

	"github.com/kdimtricp/vproctor/internal/platform"
)

// GrabberConfig selects an ffmpeg input. Typical values: v4l2 with
// /dev/video0 for a camera, x11grab with :0.0 for the screen.
type GrabberConfig struct {
	InputFormat string
	Device      string
	Size        int
}

// FrameGrabber captures single stills from a capture device through ffmpeg.
type FrameGrabber struct {
	ffmpegPath string
	config     GrabberConfig
	mu         sync.Mutex
}

func NewFrameGrabber(config GrabberConfig) (*FrameGrabber, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	log.Printf("Found ffmpeg at: %s", ffmpegPath)

	if config.Size == 0 {
		config.Size = 640
	}

	return &FrameGrabber{
		ffmpegPath: ffmpegPath,
		config:     config,
	}, nil
}

func (g *FrameGrabber) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", g.config.InputFormat,
		"-i", g.config.Device,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", g.config.Size),
		"-q:v", "2",
		"-f", "mjpeg",
		"pipe:1",
	}
}

// GrabFrame serializes captures; most capture devices refuse a second open.
func (g *FrameGrabber) GrabFrame(ctx context.Context) (platform.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cmd := exec.CommandContext(ctx, g.ffmpegPath, g.Args()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Printf("FFmpeg stderr output: %s", stderr.String())
		return platform.Frame{}, fmt.Errorf("failed to capture frame from %s: %w", g.config.Device, err)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return platform.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return platform.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	bounds := img.Bounds()
	return platform.Frame{Data: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
