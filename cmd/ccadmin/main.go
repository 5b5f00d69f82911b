// Package main implements the ccadmin CLI for manual operations against
// the codeconnectd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the codeconnectd HTTP server
	serverURL string
	// windowDays overrides the server-side dashboard window
	windowDays int
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ccadmin",
	Short: "CLI for codeconnectd admin operations",
	Long: `ccadmin is a command-line interface for the codeconnectd HTTP server.
It provides commands for checking server health and querying the admin dashboards.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8085", "codeconnectd server URL")
	rootCmd.PersistentFlags().IntVar(&windowDays, "days", 0, "dashboard window in days (0 uses the server default)")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(ratingsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(feedbackCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check codeconnectd server health",
	Long: `Check the health status of the codeconnectd HTTP server.

Examples:
  # Check health
  ccadmin health

  # Check health on a different server
  ccadmin health --server http://localhost:8080`,
	RunE: runHealth,
}

// scrubCmd scrubs secrets from files or stdin
var scrubCmd = &cobra.Command{
	Use:   "scrub [file]",
	Short: "Scrub secrets from a file or stdin",
	Long: `Scrub secrets from a file or stdin using the codeconnectd server.

Examples:
  # Scrub a file
  ccadmin scrub debug.log

  # Scrub from stdin
  cat apex-debug.log | ccadmin scrub -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScrub,
}

// ratingsCmd prints the vote summary
var ratingsCmd = &cobra.Command{
	Use:   "ratings",
	Short: "Show upvote/downvote summary",
	Long: `Show the response rating summary for the dashboard window.

Examples:
  # Last 30 days (server default)
  ccadmin ratings

  # Last 7 days
  ccadmin ratings --days 7`,
	RunE: runRatings,
}

// modelsCmd prints per-day model usage
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show model usage per day",
	RunE:  runModels,
}

// usersCmd prints the most active users
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Show the most active users",
	RunE:  runUsers,
}

// feedbackCmd prints the feedback breakdown
var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Show feedback counts by category and Jira status",
	RunE:  runFeedback,
}

// HealthResponse matches internal/httpapi/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// ScrubRequest matches internal/httpapi ScrubRequest
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse matches internal/httpapi ScrubResponse
type ScrubResponse struct {
	Content       string   `json:"content"`
	FindingsCount int      `json:"findings_count"`
	Rules         []string `json:"rules,omitempty"`
}

// RatingsSummary matches internal/dashboard RatingsSummary
type RatingsSummary struct {
	WindowDays int     `json:"window_days"`
	Upvotes    int64   `json:"upvotes"`
	Downvotes  int64   `json:"downvotes"`
	Total      int64   `json:"total"`
	Approval   float64 `json:"approval"`
}

// ModelUsagePoint matches internal/dashboard ModelUsagePoint
type ModelUsagePoint struct {
	Day      string `json:"day"`
	Model    string `json:"model"`
	Messages int64  `json:"messages"`
}

// TopUser matches internal/dashboard TopUser
type TopUser struct {
	UserID   string    `json:"user_id"`
	Messages int64     `json:"messages"`
	Chats    int64     `json:"chats"`
	LastSeen time.Time `json:"last_seen"`
}

// FeedbackBreakdown matches internal/dashboard FeedbackBreakdown
type FeedbackBreakdown struct {
	WindowDays int              `json:"window_days"`
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	ByStatus   map[string]int64 `json:"by_jira_status"`
}

// getJSON performs a GET against the server and decodes the JSON body.
func getJSON(path string, out any) error {
	u := fmt.Sprintf("%s%s", serverURL, path)
	if windowDays > 0 {
		sep := "?"
		if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
			sep = "&"
		}
		u = fmt.Sprintf("%s%sdays=%d", u, sep, windowDays)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(u)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var health HealthResponse
	if err := getJSON("/health", &health); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", health.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// runScrub handles the scrub command
func runScrub(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}

	if len(content) == 0 {
		return fmt.Errorf("no content to scrub")
	}

	reqJSON, err := json.Marshal(ScrubRequest{Content: string(content)})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/scrub", serverURL)
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Post(u, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	var scrubResp ScrubResponse
	if err := json.NewDecoder(resp.Body).Decode(&scrubResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Print(scrubResp.Content)
	if scrubResp.FindingsCount > 0 {
		fmt.Fprintf(os.Stderr, "\n[ccadmin] Scrubbed %d secret(s)\n", scrubResp.FindingsCount)
	}
	return nil
}

// runRatings handles the ratings command
func runRatings(cmd *cobra.Command, args []string) error {
	var summary RatingsSummary
	if err := getJSON("/api/v1/admin/dashboard/ratings", &summary); err != nil {
		return err
	}

	fmt.Printf("Window:    last %d days\n", summary.WindowDays)
	fmt.Printf("Upvotes:   %d\n", summary.Upvotes)
	fmt.Printf("Downvotes: %d\n", summary.Downvotes)
	fmt.Printf("Total:     %d\n", summary.Total)
	fmt.Printf("Approval:  %.1f%%\n", summary.Approval*100)
	return nil
}

// runModels handles the models command
func runModels(cmd *cobra.Command, args []string) error {
	var points []ModelUsagePoint
	if err := getJSON("/api/v1/admin/dashboard/models", &points); err != nil {
		return err
	}

	if len(points) == 0 {
		fmt.Println("No model usage in the window.")
		return nil
	}
	for _, p := range points {
		fmt.Printf("%s  %-40s %d\n", p.Day, p.Model, p.Messages)
	}
	return nil
}

// runUsers handles the users command
func runUsers(cmd *cobra.Command, args []string) error {
	var users []TopUser
	if err := getJSON("/api/v1/admin/dashboard/users", &users); err != nil {
		return err
	}

	if len(users) == 0 {
		fmt.Println("No activity in the window.")
		return nil
	}
	fmt.Printf("%-24s %8s %6s  %s\n", "USER", "MESSAGES", "CHATS", "LAST SEEN")
	for _, u := range users {
		fmt.Printf("%-24s %8d %6d  %s\n", u.UserID, u.Messages, u.Chats, u.LastSeen.Format(time.RFC3339))
	}
	return nil
}

// runFeedback handles the feedback command
func runFeedback(cmd *cobra.Command, args []string) error {
	var breakdown FeedbackBreakdown
	if err := getJSON("/api/v1/admin/dashboard/feedback", &breakdown); err != nil {
		return err
	}

	fmt.Printf("Window: last %d days\n", breakdown.WindowDays)
	fmt.Printf("Total:  %d\n", breakdown.Total)

	fmt.Println("\nBy category:")
	printCounts(breakdown.ByCategory)
	fmt.Println("\nBy Jira status:")
	printCounts(breakdown.ByStatus)
	return nil
}

func printCounts(counts map[string]int64) {
	if len(counts) == 0 {
		fmt.Println("  (none)")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-12s %d\n", k, counts[k])
	}
}
