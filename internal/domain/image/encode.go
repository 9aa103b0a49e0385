package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"glass-server-go/internal/contracts/providers"
)

// Encode validates raw and packages it for a vision provider.
func (v *Validator) Encode(raw []byte) (providers.ImageInput, error) {
	info, err := v.Validate(raw)
	if err != nil {
		return providers.ImageInput{}, err
	}

	buf := bytes.NewBuffer(make([]byte, 0, base64.StdEncoding.EncodedLen(len(raw))))
	enc := base64.NewEncoder(base64.StdEncoding, buf)
	if _, err := enc.Write(raw); err != nil {
		return providers.ImageInput{}, fmt.Errorf("encode image: %w", err)
	}
	if err := enc.Close(); err != nil {
		return providers.ImageInput{}, fmt.Errorf("finalise base64 encoding: %w", err)
	}

	return providers.ImageInput{
		Data:   raw,
		Format: info.Format,
		Base64: buf.String(),
	}, nil
}

// DataURL renders img as a data: URL.
func DataURL(img providers.ImageInput) string {
	return fmt.Sprintf("data:image/%s;base64,%s", img.Format, img.Base64)
}

// ContentType maps a decoded format name to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
