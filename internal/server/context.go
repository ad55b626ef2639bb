package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/httprunner/ActivityUploader/internal/errs"
)

// RequestContext is what every proxy handler sees, whatever router hosts it.
type RequestContext struct {
	PathParams map[string]string
	Query      url.Values
	Body       []byte
}

// Param returns a path parameter, falling back to the query string.
func (rc RequestContext) Param(name string) string {
	if v, ok := rc.PathParams[name]; ok && v != "" {
		return v
	}
	return rc.Query.Get(name)
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (rc RequestContext) Decode(v any) error {
	if len(rc.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(rc.Body, v); err != nil {
		return errs.Wrap(errs.Validation, err, "invalid JSON body")
	}
	return nil
}

// HandlerFunc answers one proxy call with a status code and a JSON payload.
type HandlerFunc func(ctx context.Context, rc RequestContext) (int, any)

// adapt turns a HandlerFunc into a gin handler.
func adapt(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := RequestContext{
			PathParams: make(map[string]string, len(c.Params)),
			Query:      c.Request.URL.Query(),
		}
		for _, p := range c.Params {
			rc.PathParams[p.Key] = p.Value
		}
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request Entity Too Large"})
					return
				}
				c.JSON(http.StatusBadRequest, gin.H{"error": "read request body failed"})
				return
			}
			rc.Body = body
		}
		status, payload := h(c.Request.Context(), rc)
		c.JSON(status, payload)
	}
}

func failure(err error) (int, any) {
	return errs.HTTPStatus(err), gin.H{"error": errs.Message(err)}
}
