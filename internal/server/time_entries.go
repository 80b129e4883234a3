package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/fieldclock/internal/approval/domain"
	timeentrydomain "github.com/smallbiznis/fieldclock/internal/timeentry/domain"
	"github.com/smallbiznis/fieldclock/pkg/db/pagination"
)

func (s *Server) ClockIn(c *gin.Context) {
	var req timeentrydomain.ClockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	resp, err := s.timeEntrySvc.ClockIn(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ClockOut(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req timeentrydomain.ClockOutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError("invalid body"))
			return
		}
	}
	req.EntryID = id

	resp, err := s.timeEntrySvc.ClockOut(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisputeEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req timeentrydomain.DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}
	req.EntryID = id

	entry, err := s.timeEntrySvc.DisputeEntry(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) EditEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req timeentrydomain.EditEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}
	req.EntryID = id

	entry, err := s.timeEntrySvc.EditEntry(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) GetEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.timeEntrySvc.GetEntry(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ListEntries(c *gin.Context) {
	var query struct {
		PageToken   string `form:"page_token"`
		PageSize    int    `form:"page_size"`
		Status      string `form:"status"`
		Tag         string `form:"tag"`
		UserID      string `form:"user_id"`
		NeedsReview string `form:"needs_review"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError("invalid query"))
		return
	}
	needsReview, err := parseOptionalBool(query.NeedsReview)
	if err != nil {
		AbortWithError(c, invalidRequestError("invalid needs_review"))
		return
	}

	resp, err := s.timeEntrySvc.ListEntries(c.Request.Context(), timeentrydomain.ListEntriesRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status:      query.Status,
		Tag:         query.Tag,
		UserID:      query.UserID,
		NeedsReview: needsReview,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) DetectConflicts(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.timeEntrySvc.DetectConflicts(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ApproveEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.approvalSvc.ApproveEntry(c.Request.Context(), approvaldomain.ApproveRequest{EntryID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) RejectEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req approvaldomain.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}
	req.EntryID = id

	res, err := s.approvalSvc.RejectEntry(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) BulkApprove(c *gin.Context) {
	var req approvaldomain.BulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	resp, err := s.approvalSvc.BulkApprove(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) BulkReject(c *gin.Context) {
	var req approvaldomain.BulkRejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	resp, err := s.approvalSvc.BulkReject(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
