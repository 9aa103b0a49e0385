// Package image checks reassembled frames before they are stored or sent to
// a vision model.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"glass-server-go/internal/platform/config"
	"glass-server-go/internal/platform/logging"
)

var (
	ErrEmpty      = errors.New("image: empty payload")
	ErrTooLarge   = errors.New("image: payload too large")
	ErrFormat     = errors.New("image: format not allowed")
	ErrCorrupt    = errors.New("image: cannot decode")
	ErrDimensions = errors.New("image: dimensions exceed limit")
	ErrSuspicious = errors.New("image: suspicious content")
)

// Info describes a frame that passed validation.
type Info struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// Metrics counts validation outcomes.
type Metrics struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Flagged  int64 `json:"flagged"`
}

// Validator applies size, format, dimension and content checks.
type Validator struct {
	cfg    config.ImageSecurityConfig
	logger *logging.Logger

	accepted atomic.Int64
	rejected atomic.Int64
	flagged  atomic.Int64
}

func NewValidator(cfg config.ImageSecurityConfig, logger *logging.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// Validate inspects raw and returns its decoded header information.
func (v *Validator) Validate(raw []byte) (Info, error) {
	info, err := v.validate(raw)
	if err != nil {
		v.rejected.Add(1)
		if errors.Is(err, ErrSuspicious) {
			v.flagged.Add(1)
		}
		v.logger.WarnTag("Image", "rejected frame of %d bytes (header %x): %v", len(raw), raw[:min(len(raw), 8)], err)
		return Info{}, err
	}
	v.accepted.Add(1)
	v.logger.DebugTag("Image", "accepted %s %dx%d, %d bytes", info.Format, info.Width, info.Height, info.Size)
	return info, nil
}

func (v *Validator) validate(raw []byte) (Info, error) {
	if len(raw) == 0 {
		return Info{}, ErrEmpty
	}
	if v.cfg.MaxFileSize > 0 && int64(len(raw)) > v.cfg.MaxFileSize {
		return Info{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(raw), v.cfg.MaxFileSize)
	}
	if v.cfg.EnableDeepScan {
		if reason := scanSuspicious(raw); reason != "" {
			return Info{}, fmt.Errorf("%w: %s", ErrSuspicious, reason)
		}
	}

	hdr, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !v.formatAllowed(format) {
		return Info{}, fmt.Errorf("%w: %s", ErrFormat, format)
	}
	if (v.cfg.MaxWidth > 0 && hdr.Width > v.cfg.MaxWidth) || (v.cfg.MaxHeight > 0 && hdr.Height > v.cfg.MaxHeight) {
		return Info{}, fmt.Errorf("%w: %dx%d (max %dx%d)", ErrDimensions, hdr.Width, hdr.Height, v.cfg.MaxWidth, v.cfg.MaxHeight)
	}
	if pixels := int64(hdr.Width) * int64(hdr.Height); v.cfg.MaxPixels > 0 && pixels > v.cfg.MaxPixels {
		return Info{}, fmt.Errorf("%w: %d pixels (max %d)", ErrDimensions, pixels, v.cfg.MaxPixels)
	}

	return Info{Format: format, Width: hdr.Width, Height: hdr.Height, Size: len(raw)}, nil
}

func (v *Validator) formatAllowed(format string) bool {
	if len(v.cfg.AllowedFormats) == 0 {
		return true
	}
	format = strings.ToLower(format)
	for _, allowed := range v.cfg.AllowedFormats {
		a := strings.ToLower(allowed)
		if a == format || (a == "jpg" && format == "jpeg") {
			return true
		}
	}
	return false
}

// Metrics returns the validation counters.
func (v *Validator) Metrics() Metrics {
	return Metrics{
		Accepted: v.accepted.Load(),
		Rejected: v.rejected.Load(),
		Flagged:  v.flagged.Load(),
	}
}

var executableSignatures = map[string][]byte{
	"windows executable": {0x4D, 0x5A},
	"pdf document":       {0x25, 0x50, 0x44, 0x46},
	"zip archive":        {0x50, 0x4B, 0x03, 0x04},
	"gzip archive":       {0x1F, 0x8B, 0x08},
	"elf binary":         {0x7F, 0x45, 0x4C, 0x46},
}

var svgTokens = []string{
	"<script",
	"javascript:",
	"onload=",
	"onerror=",
	"<iframe",
	"<object",
	"<embed",
}

func scanSuspicious(raw []byte) string {
	for name, sig := range executableSignatures {
		if bytes.HasPrefix(raw, sig) {
			return name
		}
	}
	head := raw[:min(len(raw), 4096)]
	lower := bytes.ToLower(head)
	if bytes.Contains(lower, []byte("<svg")) {
		for _, token := range svgTokens {
			if bytes.Contains(lower, []byte(token)) {
				return "svg with " + token
			}
		}
	}
	return ""
}
