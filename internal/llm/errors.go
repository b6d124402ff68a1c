package llm

import (
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperjump/docchat/internal/models"
)

// WrapAPIError extracts the status and message from go-openai errors and wraps models.ErrTransport.
func WrapAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, models.ErrTransport)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, strings.TrimSpace(string(reqErr.Body)), models.ErrTransport)
	}
	return fmt.Errorf("%s request failed: %w: %w", op, err, models.ErrTransport)
}
