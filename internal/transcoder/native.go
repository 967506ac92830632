package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/webp"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the lossy WebP quality used when none is configured.
const DefaultQuality = 80

// NativeEncoder decodes JPEG, PNG or WebP input and encodes lossy WebP
// in process.
type NativeEncoder struct {
	Quality int
}

func (e NativeEncoder) Name() string { return "native" }

func (e NativeEncoder) Encode(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	quality := e.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode %s as webp: %w", format, err)
	}
	return buf.Bytes(), nil
}
