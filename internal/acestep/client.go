package acestep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/satindergrewal/layerdaw/internal/logger"
)

// Client communicates with the ACE-Step v1.5 REST API.
type Client struct {
	apiURL    string
	apiKey    string
	outputDir string // shared volume mount point
	http      *http.Client
}

// NewClient creates an ACE-Step API client.
func NewClient(apiURL, apiKey, outputDir string) *Client {
	return &Client{
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		outputDir: outputDir,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Health reports whether the API answers its health check.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForHealthy blocks until the ACE-Step API responds to health checks.
func (c *Client) WaitForHealthy(ctx context.Context, retry time.Duration) error {
	logger.Info("Waiting for ACE-Step API to be ready", logger.String("url", c.apiURL))
	for {
		if err := c.Health(ctx); err == nil {
			logger.Info("ACE-Step API is healthy")
			return nil
		}

		logger.Warn("ACE-Step not ready, retrying", logger.Duration("retry", retry))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// ListModels returns the models the server can run.
func (c *Client) ListModels(ctx context.Context) (ModelsList, error) {
	var env envelope[ModelsList]
	if err := c.getJSON(ctx, "/v1/models", &env); err != nil {
		return ModelsList{}, fmt.Errorf("list models: %w", err)
	}
	return env.Data, nil
}

// Stats returns the queue depth and running task count.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := c.getJSON(ctx, "/v1/stats", &s); err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return s, nil
}

// ReleaseLegoTask queues a lego task with srcAudio as its audio context.
func (c *Client) ReleaseLegoTask(ctx context.Context, srcAudio []byte, params LegoParams) (ReleaseTaskResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("src_audio", "src_audio.wav")
	if err != nil {
		return ReleaseTaskResponse{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(srcAudio); err != nil {
		return ReleaseTaskResponse{}, fmt.Errorf("write source audio: %w", err)
	}
	for _, f := range params.FormFields() {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return ReleaseTaskResponse{}, fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return ReleaseTaskResponse{}, fmt.Errorf("close form: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/release_task", &body, mw.FormDataContentType())
	if err != nil {
		return ReleaseTaskResponse{}, fmt.Errorf("submit task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		return ReleaseTaskResponse{}, fmt.Errorf("submit task: status %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}

	var env envelope[ReleaseTaskResponse]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return ReleaseTaskResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if err := env.err(); err != nil {
		return ReleaseTaskResponse{}, err
	}
	return env.Data, nil
}

// QueryResult returns the current state of the given tasks.
func (c *Client) QueryResult(ctx context.Context, taskIDs ...string) ([]TaskResultEntry, error) {
	reqBody, err := json.Marshal(map[string][]string{"task_id_list": taskIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/query_result", bytes.NewReader(reqBody), "application/json")
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query result: status %d", resp.StatusCode)
	}

	var env envelope[[]TaskResultEntry]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Download fetches a generated file. The shared output volume is tried
// first; otherwise the file is streamed from the API.
func (c *Client) Download(ctx context.Context, audioPath string) ([]byte, error) {
	if data, ok := c.readShared(audioPath); ok {
		return data, nil
	}

	resp, err := c.do(ctx, http.MethodGet, downloadPath(audioPath), nil, "")
	if err != nil {
		return nil, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

// downloadPath maps a result file reference to an API path. References may
// already be API paths like "/v1/audio?path=..." or bare server paths.
func downloadPath(audioPath string) string {
	if strings.HasPrefix(audioPath, "/v1/") {
		return audioPath
	}
	return "/v1/audio?path=" + url.QueryEscape(audioPath)
}

// readShared looks for the file under the shared output directory.
func (c *Client) readShared(audioPath string) ([]byte, bool) {
	if c.outputDir == "" {
		return nil, false
	}
	rel := audioPath
	if strings.HasPrefix(audioPath, "/v1/") {
		u, err := url.Parse(audioPath)
		if err != nil {
			return nil, false
		}
		rel = u.Query().Get("path")
	}
	if rel == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.outputDir, rel))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.http.Do(req)
}
