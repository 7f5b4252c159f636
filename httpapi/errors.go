package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-autoreply/core"
)

type errorBody struct {
	Code     int    `json:"code"`
	TextCode string `json:"text_code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// renderError writes the service envelope for err. Statuses outside the 4xx/5xx
// range fall back to 500.
func renderError(c *gin.Context, err error) {
	envelope := core.ToServiceError(err)
	if envelope == nil {
		envelope = goerrors.New("internal error", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ServiceErrorInternal)
	}
	status := envelope.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: errorBody{
		Code:     status,
		TextCode: envelope.TextCode,
		Category: envelope.Category.String(),
		Message:  envelope.Message,
	}})
}

func badRequest(c *gin.Context, message string, err error) {
	wrapped := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput)
	if err != nil {
		wrapped = goerrors.Wrap(err, goerrors.CategoryBadInput, message).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ServiceErrorBadInput)
	}
	renderError(c, wrapped)
}
