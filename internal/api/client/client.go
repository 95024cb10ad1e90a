package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/projectpulse/internal/models"
	"github.com/projectpulse/internal/report"
	"github.com/projectpulse/internal/scheduler"
	"github.com/projectpulse/internal/visibility"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient reads PULSE_API_URL and PULSE_TOKEN from the environment.
func NewClient() (*Client, error) {
	baseURL := os.Getenv("PULSE_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	token := os.Getenv("PULSE_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("PULSE_TOKEN environment variable is not set")
	}
	return New(baseURL, token), nil
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) TriggerEvaluation(projectID string) (*scheduler.Handle, error) {
	var h scheduler.Handle
	if err := c.post(fmt.Sprintf("/api/v1/evaluate/%s", url.PathEscape(projectID)), nil, &h); err != nil {
		return nil, err
	}
	h.ProjectID = projectID
	return &h, nil
}

func (c *Client) GetEvaluation(handle string) (*scheduler.Handle, error) {
	var h scheduler.Handle
	if err := c.get(fmt.Sprintf("/api/v1/evaluations/%s", url.PathEscape(handle)), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetScore returns nil when the caller may not see the project's score.
func (c *Client) GetScore(projectID string) (*visibility.ScoreView, error) {
	var resp struct {
		Score *visibility.ScoreView `json:"score"`
	}
	if err := c.get(fmt.Sprintf("/api/v1/scores/%s", url.PathEscape(projectID)), &resp); err != nil {
		return nil, err
	}
	return resp.Score, nil
}

func (c *Client) GetScoreHistory(projectID string, limit int) ([]visibility.ScoreView, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		History []visibility.ScoreView `json:"history"`
	}
	endpoint := fmt.Sprintf("/api/v1/scores/%s/history?%s", url.PathEscape(projectID), query.Encode())
	if err := c.get(endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}

func (c *Client) ListAlerts(projectID, status string) ([]models.AlertView, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	var resp struct {
		Alerts []models.AlertView `json:"alerts"`
	}
	endpoint := fmt.Sprintf("/api/v1/alerts/%s?%s", url.PathEscape(projectID), query.Encode())
	if err := c.get(endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Alerts, nil
}

func (c *Client) AcknowledgeAlert(alertID string) (*models.Alert, error) {
	var a models.Alert
	if err := c.post(fmt.Sprintf("/api/v1/alerts/%s/acknowledge", url.PathEscape(alertID)), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) AlertSummary(status string) (*models.AlertSummary, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	var s models.AlertSummary
	if err := c.get("/api/v1/alerts/summary?"+query.Encode(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

type PolicyInfo struct {
	Version string `json:"version"`
	Rules   int    `json:"rules"`
}

func (c *Client) ReloadPolicy() (*PolicyInfo, error) {
	var info PolicyInfo
	if err := c.post("/api/v1/policy/reload", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Portfolio() (*report.Portfolio, error) {
	var p report.Portfolio
	if err := c.get("/api/v1/reports/portfolio?format=json", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ExportPortfolio writes the report in the given format to output.
func (c *Client) ExportPortfolio(format, output string) error {
	query := url.Values{}
	query.Set("format", format)

	resp, err := c.doRequest(http.MethodGet, "/api/v1/reports/portfolio?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func (c *Client) ImportProjects(projects []models.ProjectSnapshot) (int, error) {
	var resp struct {
		Imported int `json:"imported"`
	}
	if err := c.post("/api/v1/projects/import", projects, &resp); err != nil {
		return 0, err
	}
	return resp.Imported, nil
}

func (c *Client) get(endpoint string, v interface{}) error {
	resp, err := c.doRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) doRequest(method, endpoint string, body io.Reader) (*http.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, ref.Path)
	u.RawQuery = ref.RawQuery

	req, err := http.NewRequest(method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	return resp, nil
}
