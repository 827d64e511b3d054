package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body written for any CollabError reaching the
// admin HTTP surface.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *CollabError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: string(e.Kind), Message: e.Message}
}

// Handler converts a CollabError returned by a handler into a JSON response,
// logging 5xx-equivalent kinds at error level and everything else at warn.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		ce, ok := err.Err.(*CollabError)
		if !ok {
			log.Error().Err(err.Err).Msg("unhandled error in admin surface")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: string(KindInternal), Message: "an unexpected error occurred"})
			return
		}

		status := ce.Kind.HTTPStatus()
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= 500 {
			log.Error().Str("kind", string(ce.Kind)).Err(ce.Cause).Msg(ce.Message)
		} else {
			log.Warn().Str("kind", string(ce.Kind)).Msg(ce.Message)
		}
		c.JSON(status, ce.ToResponse())
	}
}

// Recovery recovers from panics in admin handlers and reports them as
// internal errors instead of crashing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered panic in admin surface")
				c.JSON(http.StatusInternalServerError, ErrorResponse{Error: string(KindInternal), Message: "an unexpected error occurred"})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// AbortWithError aborts the request with the given CollabError's status and
// JSON body.
func AbortWithError(c *gin.Context, err *CollabError) {
	c.Error(err)
	status := err.Kind.HTTPStatus()
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, err.ToResponse())
}
