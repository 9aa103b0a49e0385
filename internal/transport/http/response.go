package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"glass-server-go/internal/app/session"
	"glass-server-go/internal/domain/image"
	"glass-server-go/internal/domain/photo"
	apperrors "glass-server-go/internal/platform/errors"
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondErr maps err to a status code and aborts the request.
func RespondErr(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	RespondError(c, status, err.Error(), nil)
	c.Abort()
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrPhotoNotFound):
		return http.StatusNotFound
	case errors.Is(err, photo.ErrAlreadyCapturing):
		return http.StatusConflict
	case errors.Is(err, photo.ErrControlUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, image.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, image.ErrEmpty),
		errors.Is(err, image.ErrFormat),
		errors.Is(err, image.ErrCorrupt),
		errors.Is(err, image.ErrDimensions),
		errors.Is(err, image.ErrSuspicious):
		return http.StatusUnprocessableEntity
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindTransport, apperrors.KindProtocol:
		return http.StatusBadRequest
	case apperrors.KindVision, apperrors.KindReasoning, apperrors.KindSpeech:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
