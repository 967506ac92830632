package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpeg settings for image to WebP conversion.
const (
	WebPCodec  = "libwebp"
	WebPPreset = "photo"
)

// FFmpegEncoder pipes the image through an ffmpeg process.
type FFmpegEncoder struct {
	Path    string
	Quality int
}

func (e FFmpegEncoder) Name() string { return "ffmpeg" }

// BuildArgs returns the ffmpeg arguments reading an image from stdin and
// writing WebP to stdout.
func BuildArgs(quality int) []string {
	if quality <= 0 {
		quality = DefaultQuality
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "image2pipe",
		"-i", "pipe:0",
		"-c:v", WebPCodec,
		"-quality", strconv.Itoa(quality),
		"-preset", WebPPreset,
		"-f", "webp",
		"pipe:1",
	}
}

func (e FFmpegEncoder) Encode(ctx context.Context, data []byte) ([]byte, error) {
	path := e.Path
	if path == "" {
		path = "ffmpeg"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, BuildArgs(e.Quality)...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffmpeg error: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg error: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output")
	}
	return stdout.Bytes(), nil
}
