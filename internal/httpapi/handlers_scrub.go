package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ScrubRequest is the body for POST /scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse carries the scrubbed content and what was found.
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}

// handleScrub redacts secrets from arbitrary text. Operators use it to
// clean logs and configs before pasting them into chat or tickets.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	result := s.deps.Scrubber.Scrub(req.Content)
	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: result.TotalFindings,
		Rules:         result.RuleIDs(),
	})
}
