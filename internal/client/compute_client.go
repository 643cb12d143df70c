package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
)

// ComputeService defines the operations consumed from the remote compute service.
// Non-2xx responses and transport errors are apperrors remote access failures;
// a 404 can be told apart with apperrors.IsRemoteNotFound.
type ComputeService interface {
	ImportFiles(ctx context.Context, path string) (*model.ImportResult, error)
	ParseSetup(ctx context.Context, sourceFrames []string) (*model.ParseSetup, error)
	Parse(ctx context.Context, setup *model.ParseSetup) (*model.ParseResult, error)
	RunAutoML(ctx context.Context, spec *model.AutoMLSpec) (*model.AutoMLResult, error)
	GetJob(ctx context.Context, key string) (*model.Job, error)
	ListJobs(ctx context.Context) ([]*model.Job, error)
	CancelJob(ctx context.Context, key string) error
	ListFrames(ctx context.Context) ([]model.Key, error)
	DeleteFrame(ctx context.Context, frameID string) error
	BindFrames(ctx context.Context, dest string, sources []string) error
	ExportFrame(ctx context.Context, frameID, path string, overwrite bool) error
	Predict(ctx context.Context, modelID, frameID string) (*model.PredictResult, error)
	GetModel(ctx context.Context, modelID string) (*model.Model, error)
	ExportModel(ctx context.Context, modelID, path string) error
	DeleteModel(ctx context.Context, modelID string) error
	DownloadMojo(ctx context.Context, modelID string) (io.ReadCloser, error)
	DownloadGenModel(ctx context.Context) (io.ReadCloser, error)
	GetLeaderboard(ctx context.Context, leaderboardID string) (*model.Leaderboard, error)
	GetColumnSummaries(ctx context.Context, frameID string) (*model.Frame, error)
	GetFrameData(ctx context.Context, q model.FrameQuery) (*model.Frame, error)
	ChangeColumnType(ctx context.Context, frameID string, index int, columnType string, from, to int64) error
}

// ComputeClient implements ComputeService over the compute service's JSON REST API
type ComputeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewComputeClient creates a new compute service client
func NewComputeClient(cfg *config.ComputeConfig, logger *slog.Logger) *ComputeClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ComputeClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     logging.OrDefault(logger),
	}
}

// IsConfigured returns true if the client has a base URL
func (c *ComputeClient) IsConfigured() bool {
	return c.baseURL != ""
}

// ImportFiles imports raw files at path into raw frames
func (c *ComputeClient) ImportFiles(ctx context.Context, path string) (*model.ImportResult, error) {
	var result model.ImportResult
	if err := c.post(ctx, "compute.ImportFiles", "/3/ImportFiles", map[string]string{"path": path}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ParseSetup derives a parse plan for raw frames
func (c *ComputeClient) ParseSetup(ctx context.Context, sourceFrames []string) (*model.ParseSetup, error) {
	req := map[string][]string{"source_frames": sourceFrames}
	var result model.ParseSetup
	if err := c.post(ctx, "compute.ParseSetup", "/3/ParseSetup", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Parse parses raw frames into a frame using setup
func (c *ComputeClient) Parse(ctx context.Context, setup *model.ParseSetup) (*model.ParseResult, error) {
	var result model.ParseResult
	if err := c.post(ctx, "compute.Parse", "/3/Parse", setup, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RunAutoML starts an AutoML build
func (c *ComputeClient) RunAutoML(ctx context.Context, spec *model.AutoMLSpec) (*model.AutoMLResult, error) {
	var result model.AutoMLResult
	if err := c.post(ctx, "compute.RunAutoML", "/99/AutoMLBuilder", spec, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type jobsResponse struct {
	Jobs []*model.Job `json:"jobs"`
}

// GetJob returns the live status of one job. An empty job list is reported as a 404.
func (c *ComputeClient) GetJob(ctx context.Context, key string) (*model.Job, error) {
	var result jobsResponse
	if err := c.get(ctx, "compute.GetJob", "/3/Jobs/"+url.PathEscape(key), &result); err != nil {
		return nil, err
	}
	for _, j := range result.Jobs {
		if j != nil && j.Key.Name == key {
			return j, nil
		}
	}
	return nil, apperrors.RemoteAccess("compute.GetJob", http.StatusNotFound, "job "+key+" not reported", nil)
}

// ListJobs returns every job the compute service knows
func (c *ComputeClient) ListJobs(ctx context.Context) ([]*model.Job, error) {
	var result jobsResponse
	if err := c.get(ctx, "compute.ListJobs", "/3/Jobs", &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// CancelJob requests cancellation of a running job
func (c *ComputeClient) CancelJob(ctx context.Context, key string) error {
	return c.post(ctx, "compute.CancelJob", "/3/Jobs/"+url.PathEscape(key)+"/cancel", struct{}{}, nil)
}

type framesResponse struct {
	Frames []*model.Frame `json:"frames"`
}

// ListFrames returns the keys of every frame
func (c *ComputeClient) ListFrames(ctx context.Context) ([]model.Key, error) {
	var result framesResponse
	if err := c.get(ctx, "compute.ListFrames", "/3/Frames", &result); err != nil {
		return nil, err
	}
	keys := make([]model.Key, 0, len(result.Frames))
	for _, f := range result.Frames {
		if f != nil {
			keys = append(keys, f.FrameID)
		}
	}
	return keys, nil
}

// DeleteFrame removes a frame
func (c *ComputeClient) DeleteFrame(ctx context.Context, frameID string) error {
	return c.delete(ctx, "compute.DeleteFrame", "/3/Frames/"+url.PathEscape(frameID))
}

// BindFrames column-binds sources into a new frame named dest
func (c *ComputeClient) BindFrames(ctx context.Context, dest string, sources []string) error {
	ast := "(assign " + dest + " (cbind"
	for _, s := range sources {
		ast += " " + s
	}
	ast += "))"
	return c.rapids(ctx, "compute.BindFrames", ast)
}

// ExportFrame writes a frame as CSV to path
func (c *ComputeClient) ExportFrame(ctx context.Context, frameID, path string, overwrite bool) error {
	req := map[string]any{"path": path, "force": overwrite}
	return c.post(ctx, "compute.ExportFrame", "/3/Frames/"+url.PathEscape(frameID)+"/export", req, nil)
}

// Predict scores frameID with modelID
func (c *ComputeClient) Predict(ctx context.Context, modelID, frameID string) (*model.PredictResult, error) {
	endpoint := fmt.Sprintf("/3/Predictions/models/%s/frames/%s", url.PathEscape(modelID), url.PathEscape(frameID))
	var result model.PredictResult
	if err := c.post(ctx, "compute.Predict", endpoint, struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type modelsResponse struct {
	Models []*model.Model `json:"models"`
}

// GetModel returns model metadata
func (c *ComputeClient) GetModel(ctx context.Context, modelID string) (*model.Model, error) {
	var result modelsResponse
	if err := c.get(ctx, "compute.GetModel", "/3/Models/"+url.PathEscape(modelID), &result); err != nil {
		return nil, err
	}
	for _, m := range result.Models {
		if m != nil && m.ModelID.Name == modelID {
			return m, nil
		}
	}
	return nil, apperrors.RemoteAccess("compute.GetModel", http.StatusNotFound, "model "+modelID+" not reported", nil)
}

// ExportModel writes the serialized model to path
func (c *ComputeClient) ExportModel(ctx context.Context, modelID, path string) error {
	req := map[string]any{"dir": path, "force": true}
	return c.post(ctx, "compute.ExportModel", "/99/Models.bin/"+url.PathEscape(modelID), req, nil)
}

// DeleteModel removes a model
func (c *ComputeClient) DeleteModel(ctx context.Context, modelID string) error {
	return c.delete(ctx, "compute.DeleteModel", "/3/Models/"+url.PathEscape(modelID))
}

// DownloadMojo streams the MOJO archive of a model. The caller closes the stream.
func (c *ComputeClient) DownloadMojo(ctx context.Context, modelID string) (io.ReadCloser, error) {
	return c.download(ctx, "compute.DownloadMojo", "/3/Models/"+url.PathEscape(modelID)+"/mojo")
}

// DownloadGenModel streams the genmodel jar that MOJOs are scored with.
func (c *ComputeClient) DownloadGenModel(ctx context.Context) (io.ReadCloser, error) {
	return c.download(ctx, "compute.DownloadGenModel", "/3/h2o-genmodel.jar")
}

func (c *ComputeClient) download(ctx context.Context, op, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, apperrors.RemoteAccess(op, 0, "", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.RemoteAccess(op, 0, "", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.RemoteAccess(op, resp.StatusCode, string(body), nil)
	}
	return resp.Body, nil
}

// GetLeaderboard returns the ranked models of an AutoML build
func (c *ComputeClient) GetLeaderboard(ctx context.Context, leaderboardID string) (*model.Leaderboard, error) {
	var result model.Leaderboard
	if err := c.get(ctx, "compute.GetLeaderboard", "/99/Leaderboards/"+url.PathEscape(leaderboardID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetColumnSummaries returns per-column statistics of a frame
func (c *ComputeClient) GetColumnSummaries(ctx context.Context, frameID string) (*model.Frame, error) {
	var result framesResponse
	if err := c.get(ctx, "compute.GetColumnSummaries", "/3/Frames/"+url.PathEscape(frameID)+"/summary", &result); err != nil {
		return nil, err
	}
	return pickFrame("compute.GetColumnSummaries", frameID, result.Frames)
}

// GetFrameData returns a window of rows of a frame, narrowed to q.Column when set
func (c *ComputeClient) GetFrameData(ctx context.Context, q model.FrameQuery) (*model.Frame, error) {
	params := url.Values{}
	params.Set("row_offset", strconv.FormatInt(q.RowOffset, 10))
	params.Set("row_count", strconv.FormatInt(q.RowCount, 10))
	endpoint := "/3/Frames/" + url.PathEscape(q.FrameID)
	if q.Column != "" {
		endpoint += "/columns/" + url.PathEscape(q.Column)
	}
	var result framesResponse
	if err := c.get(ctx, "compute.GetFrameData", endpoint+"?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	return pickFrame("compute.GetFrameData", q.FrameID, result.Frames)
}

// ChangeColumnType converts rows [from, to) of a column to columnType
func (c *ComputeClient) ChangeColumnType(ctx context.Context, frameID string, index int, columnType string, from, to int64) error {
	var fn string
	switch columnType {
	case model.ColumnTypeCharacter:
		fn = "as.character"
	case model.ColumnTypeFactor:
		fn = "as.factor"
	case model.ColumnTypeNumeric:
		fn = "as.numeric"
	default:
		return apperrors.Validation("type", "unsupported column type "+columnType)
	}
	rows := "[]"
	if to > from {
		rows = fmt.Sprintf("[%d:%d]", from, to-from)
	}
	ast := fmt.Sprintf("(assign %s (:= %s (%s (cols %s %d)) %d %s))", frameID, frameID, fn, frameID, index, index, rows)
	return c.rapids(ctx, "compute.ChangeColumnType", ast)
}

func (c *ComputeClient) rapids(ctx context.Context, op, ast string) error {
	return c.post(ctx, op, "/99/Rapids", map[string]string{"ast": ast}, nil)
}

func pickFrame(op, frameID string, frames []*model.Frame) (*model.Frame, error) {
	for _, f := range frames {
		if f != nil && f.FrameID.Name == frameID {
			return f, nil
		}
	}
	return nil, apperrors.RemoteAccess(op, http.StatusNotFound, "frame "+frameID+" not reported", nil)
}

// post sends a POST request with JSON body
func (c *ComputeClient) post(ctx context.Context, op, endpoint string, body any, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return apperrors.RemoteAccess(op, 0, "", err)
	}

	return c.doRequest(op, req, result)
}

// get sends a GET request and parses JSON response
func (c *ComputeClient) get(ctx context.Context, op, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return apperrors.RemoteAccess(op, 0, "", err)
	}

	return c.doRequest(op, req, result)
}

// delete sends a DELETE request
func (c *ComputeClient) delete(ctx context.Context, op, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+endpoint, nil)
	if err != nil {
		return apperrors.RemoteAccess(op, 0, "", err)
	}

	return c.doRequest(op, req, nil)
}

func (c *ComputeClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// doRequest executes an HTTP request and parses the response
func (c *ComputeClient) doRequest(op string, req *http.Request, result any) error {
	c.setHeaders(req)

	c.logger.Debug("compute request", "op", op, "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("compute request failed", "op", op, "error", err)
		return apperrors.RemoteAccess(op, 0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.RemoteAccess(op, 0, "", fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("compute response", "op", op, "status", resp.StatusCode, "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.RemoteAccess(op, resp.StatusCode, string(respBody), nil)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return apperrors.RemoteAccess(op, 0, "", fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}
