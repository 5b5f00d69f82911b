package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleGitHubStats(c echo.Context) error {
	if s.deps.GitHub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "github analytics not configured")
	}
	stats, err := s.deps.GitHub.Stats(c.Request().Context(), c.Param("owner"), c.Param("repo"))
	if err != nil {
		return fmt.Errorf("fetching repo stats: %w", err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGitHubContributors(c echo.Context) error {
	if s.deps.GitHub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "github analytics not configured")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	contributors, err := s.deps.GitHub.Contributors(c.Request().Context(), c.Param("owner"), c.Param("repo"), limit)
	if err != nil {
		return fmt.Errorf("fetching contributors: %w", err)
	}
	return c.JSON(http.StatusOK, contributors)
}

func (s *Server) handleGitHubActivity(c echo.Context) error {
	if s.deps.GitHub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "github analytics not configured")
	}
	activity, err := s.deps.GitHub.Activity(c.Request().Context(), c.Param("owner"), c.Param("repo"))
	if err != nil {
		return fmt.Errorf("fetching commit activity: %w", err)
	}
	return c.JSON(http.StatusOK, activity)
}

func (s *Server) handleSalesforceObjects(c echo.Context) error {
	if s.deps.Salesforce == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "salesforce explorer not configured")
	}
	objects, err := s.deps.Salesforce.ListObjects(c.Request().Context())
	if err != nil {
		return fmt.Errorf("listing salesforce objects: %w", err)
	}
	return c.JSON(http.StatusOK, objects)
}

func (s *Server) handleSalesforceDescribe(c echo.Context) error {
	if s.deps.Salesforce == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "salesforce explorer not configured")
	}
	describe, err := s.deps.Salesforce.DescribeObject(c.Request().Context(), c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, describe)
}

// QueryRequest is the body for POST /salesforce/query.
type QueryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSalesforceQuery(c echo.Context) error {
	if s.deps.Salesforce == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "salesforce explorer not configured")
	}
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.deps.Salesforce.Query(c.Request().Context(), req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// windowDays parses the optional ?days= parameter for dashboards.
func windowDays(c echo.Context) int {
	days, _ := strconv.Atoi(c.QueryParam("days"))
	if days < 0 {
		return 0
	}
	return days
}

func (s *Server) handleDashboardRatings(c echo.Context) error {
	summary, err := s.deps.Dashboard.Ratings(c.Request().Context(), windowDays(c))
	if err != nil {
		return fmt.Errorf("computing ratings: %w", err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleDashboardModels(c echo.Context) error {
	usage, err := s.deps.Dashboard.ModelUsage(c.Request().Context(), windowDays(c))
	if err != nil {
		return fmt.Errorf("computing model usage: %w", err)
	}
	return c.JSON(http.StatusOK, usage)
}

func (s *Server) handleDashboardUsers(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	users, err := s.deps.Dashboard.TopUsers(c.Request().Context(), windowDays(c), limit)
	if err != nil {
		return fmt.Errorf("computing top users: %w", err)
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) handleDashboardFeedback(c echo.Context) error {
	breakdown, err := s.deps.Dashboard.Feedback(c.Request().Context(), windowDays(c))
	if err != nil {
		return fmt.Errorf("computing feedback breakdown: %w", err)
	}
	return c.JSON(http.StatusOK, breakdown)
}
