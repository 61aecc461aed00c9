// Package attach enforces the upload constraints on optional comment
// attachments: JPG/GIF/PNG no larger than 320x240, or plain text up to
// 100KB.
package attach

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var ErrRejected = errors.New("attachment rejected")

const (
	MaxImageWidth  = 320
	MaxImageHeight = 240
	MaxTextSize    = 100 * 1024
)

// Validate checks filename and content against the upload constraints.
// Any returned error wraps ErrRejected.
func Validate(filename string, data []byte) error {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".gif", ".png":
		return validateImage(data)
	case ".txt":
		if len(data) > MaxTextSize {
			return fmt.Errorf("%w: text file exceeds %d bytes", ErrRejected, MaxTextSize)
		}
		return nil
	default:
		return fmt.Errorf("%w: only JPG, GIF, PNG or TXT allowed", ErrRejected)
	}
}

func validateImage(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: unreadable image", ErrRejected)
	}
	switch format {
	case "jpeg", "gif", "png":
	default:
		return fmt.Errorf("%w: unsupported image format %q", ErrRejected, format)
	}
	if cfg.Width > MaxImageWidth || cfg.Height > MaxImageHeight {
		return fmt.Errorf("%w: image exceeds %dx%d", ErrRejected, MaxImageWidth, MaxImageHeight)
	}
	return nil
}
