package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/reference"
)

// DecodeReference maps a processor reference back to its change request.
func (s *Server) DecodeReference(c *gin.Context) {
	ref := strings.TrimSpace(c.Param("reference"))
	requestID, ok := reference.Decode(ref)
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	data := gin.H{
		"reference":  ref,
		"request_id": requestID,
	}

	req, err := s.changeRequests.Get(c.Request.Context(), requestID)
	switch {
	case err == nil:
		data["change_request"] = req
	case errors.Is(err, crdomain.ErrNotFound):
	default:
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": data})
}
