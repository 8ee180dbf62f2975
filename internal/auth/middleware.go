package auth

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "intake/pkg/errors"
	"intake/pkg/logging"
)

const (
	ContextKeyPeerID  = "peer_id"
	ContextKeyRawBody = "raw_body"
)

// Middleware authenticates the request and exposes the verified peer id and raw body to
// downstream handlers. maxBodyBytes bounds how much of the body is read.
func Middleware(a *Authenticator, maxBodyBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, apperrors.ErrMissingCredentials)
			return
		}

		cred, err := ParseAuthorization(header)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if peer := c.GetHeader(PeerIDHeader); peer != "" {
			cred.PeerID = peer
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			abortWithError(c, apperrors.ErrValidation.WithDetail("message", "request body too large or unreadable"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		result, err := a.Authenticate(c.Request.Context(), cred, body)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ContextKeyPeerID, result.PeerID)
		c.Set(ContextKeyRawBody, body)
		c.Request = c.Request.WithContext(logging.WithPeerID(c.Request.Context(), result.PeerID))

		c.Next()
	}
}

// PeerID returns the authenticated peer for the request.
func PeerID(c *gin.Context) string {
	return c.GetString(ContextKeyPeerID)
}

// RawBody returns the body bytes that were verified by the signature.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ContextKeyRawBody)
	if !ok {
		return nil, false
	}
	body, ok := v.([]byte)
	return body, ok
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
}
