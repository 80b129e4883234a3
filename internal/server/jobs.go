package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	jobsitedomain "github.com/smallbiznis/fieldclock/internal/jobsite/domain"
)

func (s *Server) CreateJob(c *gin.Context) {
	var req jobsitedomain.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	job, err := s.jobSvc.CreateJob(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": job})
}

func (s *Server) ListJobs(c *gin.Context) {
	jobs, err := s.jobSvc.ListJobs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

func (s *Server) CreateAssignment(c *gin.Context) {
	var req jobsitedomain.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	assignment, err := s.jobSvc.CreateAssignment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": assignment})
}

func (s *Server) GetCompanySettings(c *gin.Context) {
	settings, err := s.jobSvc.GetSettings(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}

func (s *Server) UpdateCompanySettings(c *gin.Context) {
	var req jobsitedomain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError("invalid body"))
		return
	}

	settings, err := s.jobSvc.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": settings})
}
