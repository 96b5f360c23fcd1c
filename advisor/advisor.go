package advisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// ErrNotCSV is returned by UploadCSV for files without a .csv extension.
var ErrNotCSV = errors.New("only .csv files can be uploaded")

// Paths holds the resource endpoint paths.
type Paths struct {
	Upload         string
	DashboardStats string
	Reports        string
	GenerateReport string
}

// DefaultPaths matches the advisor backend routes.
func DefaultPaths() Paths {
	return Paths{
		Upload:         "/files/upload",
		DashboardStats: "/dashboard/stats",
		Reports:        "/reports",
		GenerateReport: "/reports/generate",
	}
}

// UploadResult describes a stored CSV file.
type UploadResult struct {
	FileID     string    `json:"fileId"`
	Filename   string    `json:"filename"`
	RowCount   int       `json:"rowCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// DashboardStats aggregates the user's uploaded recommendations.
type DashboardStats struct {
	TotalFiles           int            `json:"totalFiles"`
	TotalReports         int            `json:"totalReports"`
	TotalRecommendations int            `json:"totalRecommendations"`
	ByCategory           map[string]int `json:"byCategory"`
	ByImpact             map[string]int `json:"byImpact"`
}

// Report is a generated analysis of one uploaded file.
type Report struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	FileID    string    `json:"fileId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateRequest asks for a report on an uploaded file.
type GenerateRequest struct {
	FileID string `json:"fileId"`
	Title  string `json:"title,omitempty"`
	Type   string `json:"type,omitempty"`
}

// API wraps a Client with the advisor resource calls.
type API struct {
	client *goAuthClient.Client
	paths  Paths
}

// New returns an API using DefaultPaths.
func New(client *goAuthClient.Client) *API {
	return &API{client: client, paths: DefaultPaths()}
}

// WithPaths returns a copy of a using p.
func (a *API) WithPaths(p Paths) *API {
	c := *a
	c.paths = p
	return &c
}

// UploadCSV sends content as the multipart "file" field.
func (a *API) UploadCSV(ctx context.Context, filename string, content io.Reader) (*UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return nil, ErrNotCSV
	}
	resp, err := a.client.Upload(ctx, a.paths.Upload, "file", filepath.Base(filename), content, nil)
	if err != nil {
		return nil, err
	}
	var out UploadResult
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var out DashboardStats
	if err := a.client.GetJSON(ctx, a.paths.DashboardStats, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) ListReports(ctx context.Context) ([]Report, error) {
	var out []Report
	if err := a.client.GetJSON(ctx, a.paths.Reports, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateReport is not retried on network failure; callers decide whether a
// second report is acceptable.
func (a *API) GenerateReport(ctx context.Context, req GenerateRequest) (*Report, error) {
	if strings.TrimSpace(req.FileID) == "" {
		return nil, fmt.Errorf("%w: fileId is required", goAuthClient.ErrInvalidRequest)
	}
	var out Report
	if err := a.client.PostJSON(ctx, a.paths.GenerateReport, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) GetReport(ctx context.Context, id string) (*Report, error) {
	path, err := a.reportPath(id, "")
	if err != nil {
		return nil, err
	}
	var out Report
	if err := a.client.GetJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadReport copies the report file to w and returns the bytes written.
func (a *API) DownloadReport(ctx context.Context, id string, w io.Writer) (int64, error) {
	path, err := a.reportPath(id, "/download")
	if err != nil {
		return 0, err
	}
	resp, err := a.client.Do(ctx, &goAuthClient.Request{
		Method: http.MethodGet,
		Path:   path,
		Header: http.Header{"Accept": []string{"text/csv, application/octet-stream"}},
		Stream: w,
	})
	if err != nil {
		return 0, err
	}
	return resp.Streamed, nil
}

func (a *API) reportPath(id, suffix string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: report id is required", goAuthClient.ErrInvalidRequest)
	}
	return a.paths.Reports + "/" + url.PathEscape(id) + suffix, nil
}
