package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/orchestrator"
)

type submitChangeRequestRequest struct {
	RequestID   string          `json:"request_id"`
	TeamID      string          `json:"team_id"`
	RequestedBy string          `json:"requested_by"`
	Type        string          `json:"type"`
	ItemID      string          `json:"item_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	OldValue    string          `json:"old_value"`
	NewValue    string          `json:"new_value"`
	EventID     string          `json:"event_id"`
	Season      string          `json:"season"`
	PlayerIDs   []string        `json:"player_ids"`
	NewOwnerID  string          `json:"new_owner_id"`
	SourceID    string          `json:"source_id"`
	Metadata    map[string]any  `json:"metadata"`
}

type listChangeRequestsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type rejectChangeRequestRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) SubmitChangeRequest(c *gin.Context) {
	var req submitChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	changeType, err := crdomain.ParseChangeType(req.Type)
	if err != nil {
		AbortWithError(c, newValidationError("type", "invalid_change_type", "unknown change type"))
		return
	}
	c.Set("change_type", string(changeType))

	result, err := s.orchestrator.Submit(c.Request.Context(), orchestrator.Intent{
		RequestID:   strings.TrimSpace(req.RequestID),
		TeamID:      strings.TrimSpace(req.TeamID),
		RequestedBy: strings.TrimSpace(req.RequestedBy),
		Type:        changeType,
		ItemID:      strings.TrimSpace(req.ItemID),
		Amount:      req.Amount,
		Description: req.Description,
		OldValue:    req.OldValue,
		NewValue:    req.NewValue,
		EventID:     strings.TrimSpace(req.EventID),
		Season:      strings.TrimSpace(req.Season),
		PlayerIDs:   req.PlayerIDs,
		NewOwnerID:  strings.TrimSpace(req.NewOwnerID),
		SourceID:    strings.TrimSpace(req.SourceID),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch result.Outcome {
	case orchestrator.OutcomePaymentFailed:
		c.JSON(http.StatusPaymentRequired, gin.H{"data": result})
	default:
		c.JSON(http.StatusCreated, gin.H{"data": result})
	}
}

func (s *Server) GetChangeRequest(c *gin.Context) {
	req, err := s.changeRequests.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": req})
}

func (s *Server) ListTeamChangeRequests(c *gin.Context) {
	var query listChangeRequestsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if query.PageSize < 0 {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.changeRequests.ListByTeam(c.Request.Context(), crdomain.ListByTeamRequest{
		TeamID:    strings.TrimSpace(c.Param("team_id")),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.ChangeRequests, "page_info": resp.PageInfo})
}

func (s *Server) RejectChangeRequest(c *gin.Context) {
	var req rejectChangeRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		AbortWithError(c, newValidationError("reason", "required", "reason is required"))
		return
	}

	rejected, err := s.changeRequests.Reject(c.Request.Context(), strings.TrimSpace(c.Param("id")), reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rejected})
}

func (s *Server) ApproveChangeRequest(c *gin.Context) {
	approved, err := s.changeRequests.Approve(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": approved})
}

func (s *Server) GetChangeRequestReceipt(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	doc, err := s.receipts.Render(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, map[string]string{
		"Content-Disposition": `inline; filename="receipt-` + id + `.pdf"`,
	})
}
