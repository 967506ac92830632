// Package transcoder recompresses downloaded images to WebP.
package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rizkirmdhn/teledl/internal/common/config"
	"github.com/rizkirmdhn/teledl/pkg/models"
	"github.com/rizkirmdhn/teledl/pkg/utils"
	"github.com/sirupsen/logrus"
)

// TargetExt is the extension of transcoded files.
const TargetExt = ".webp"

// ErrNotImage is returned when a non-image file reaches the transcoder.
var ErrNotImage = errors.New("not an image")

var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// IsImage reports whether name has one of the image extensions the
// transcoder accepts. The check is case insensitive.
func IsImage(name string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// TargetPath returns dest with its extension replaced by .webp.
func TargetPath(dest string) string {
	return utils.ReplaceExt(dest, TargetExt)
}

// Encoder converts image bytes into WebP bytes.
type Encoder interface {
	Encode(ctx context.Context, data []byte) ([]byte, error)
	Name() string
}

// Service writes transcoded images to disk.
type Service struct {
	encoder Encoder
	log     *logrus.Logger
}

// NewService creates a transcoder around an encoder.
func NewService(encoder Encoder, logger *logrus.Logger) *Service {
	return &Service{encoder: encoder, log: logger}
}

// New picks the encoder named in cfg.
func New(cfg *config.TranscodeConfig, logger *logrus.Logger) (*Service, error) {
	switch cfg.Encoder {
	case config.EncoderNative, "":
		return NewService(NativeEncoder{Quality: cfg.Quality}, logger), nil
	case config.EncoderFFmpeg:
		return NewService(FFmpegEncoder{Path: cfg.FFmpegPath, Quality: cfg.Quality}, logger), nil
	default:
		return nil, fmt.Errorf("unknown encoder %q", cfg.Encoder)
	}
}

// Transcode encodes data and writes it to task.Destination. It returns the
// number of bytes written.
func (s *Service) Transcode(ctx context.Context, task models.DownloadTask, data []byte) (int64, error) {
	if !IsImage(task.Ref.FileID) {
		return 0, &models.TranscodeError{Path: task.Destination, Err: ErrNotImage}
	}

	out, err := s.encoder.Encode(ctx, data)
	if err != nil {
		return 0, &models.TranscodeError{Path: task.Destination, Err: err}
	}

	n, err := utils.WriteFileAtomic(task.Destination, bytes.NewReader(out))
	if err != nil {
		return 0, &models.FilesystemError{Op: "write", Path: task.Destination, Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"component": "transcoder",
		"encoder":   s.encoder.Name(),
		"file":      task.Destination,
		"in":        len(data),
		"out":       n,
	}).Debug("Transcoded image")

	return n, nil
}
