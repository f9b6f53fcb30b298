package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is the Bot API response shape shared by both surfaces.
type envelope struct {
	OK          bool   `json:"ok"`
	Result      any    `json:"result,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func respondOK(c *gin.Context, result any) {
	c.JSON(http.StatusOK, envelope{OK: true, Result: result})
}

// respondOKDesc carries an informational description next to the
// result, as setWebhook and deleteWebhook do.
func respondOKDesc(c *gin.Context, result any, description string) {
	c.JSON(http.StatusOK, envelope{OK: true, Result: result, Description: description})
}

// respondErr writes a Bot API error envelope. The HTTP status doubles
// as the error_code, matching how the real API reports failures.
func respondErr(c *gin.Context, status int, description string) {
	c.JSON(status, envelope{OK: false, ErrorCode: status, Description: description})
	c.Abort()
}

// bindRequest fills out from query, form or JSON body depending on the
// request. The Bot API accepts all three encodings for every method, and
// an empty body is the same as no parameters.
func bindRequest(c *gin.Context, out any) error {
	if err := c.ShouldBind(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
