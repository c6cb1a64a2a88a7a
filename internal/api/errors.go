// errors.go - Error responses

package api

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/bosocmputer/glm_ocr_desk/internal/errors"
	"github.com/gin-gonic/gin"
)

// statusFor maps an error code to an HTTP status.
func statusFor(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeConfig:
		return http.StatusBadRequest
	case apperrors.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperrors.CodeModelNotLoaded:
		return http.StatusServiceUnavailable
	case apperrors.CodeModelResolution, apperrors.CodeModelLoad:
		return http.StatusConflict
	case apperrors.CodeInference:
		return http.StatusBadGateway
	case apperrors.CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": code, "message": ..., "hint": ...}.
func (s *Server) respondError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = apperrors.NewInvalidArgumentError("request body is too large").
			WithHint("images are limited to " + humanBytes(maxErr.Limit))
	}

	code := apperrors.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "code", code, "error", err)
	}

	body := gin.H{
		"error":   code,
		"message": err.Error(),
	}
	if hint := apperrors.HintOf(err); hint != "" {
		body["hint"] = hint
	}
	c.AbortWithStatusJSON(status, body)
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
