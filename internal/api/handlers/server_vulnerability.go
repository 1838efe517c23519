package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvesentinel.io/sentinel/internal/domain"
	"cvesentinel.io/sentinel/internal/vuln"
)

// ListVulnerabilities handles GET /vulnerabilities.
func (s *Server) ListVulnerabilities(c *gin.Context) {
	f := vuln.Filter{
		Severity: domain.Severity(c.Query("severity")),
		Software: c.Query("software"),
	}
	var err error
	if f.Limit, err = intQuery(c, "limit", vuln.DefaultPageSize); err != nil {
		fail(c, err)
		return
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		fail(c, err)
		return
	}

	page, err := s.catalog.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetVulnerability handles GET /vulnerabilities/{cveId}.
func (s *Server) GetVulnerability(c *gin.Context) {
	v, err := s.catalog.Get(c.Request.Context(), c.Param("cveId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// TopAffectedSoftware handles GET /vulnerabilities/top-software.
func (s *Server) TopAffectedSoftware(c *gin.Context) {
	limit, err := intQuery(c, "limit", vuln.DefaultTopLimit)
	if err != nil {
		fail(c, err)
		return
	}
	limit = vuln.ClampTopLimit(limit)

	rows, err := s.catalog.TopAffectedSoftware(c.Request.Context(), domain.Severity(c.Query("severity")), limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows, "limit": limit})
}
