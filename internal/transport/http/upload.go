package httptransport

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
)

// readImage reads an image from a multipart "file" field or, for any other
// content type, from the raw body.
func (a *api) readImage(c *gin.Context) ([]byte, error) {
	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, errors.New("file field is required")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		src = f
	}
	limit := a.maxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	// One extra byte lets the validator report the payload as too large.
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty upload")
	}
	return data, nil
}

const defaultMaxUpload = 10 << 20

func detectFormat(data []byte) string {
	_, name, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "jpeg"
	}
	return name
}
