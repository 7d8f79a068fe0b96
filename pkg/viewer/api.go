package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-miniscope/internal/httpc"
	"github.com/teslashibe/go-miniscope/pkg/camera"
	"github.com/teslashibe/go-miniscope/pkg/hub"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Status is the reply of GET /api/status.
type Status struct {
	Stream hub.Status    `json:"stream"`
	Camera camera.Config `json:"camera"`
}

// API talks to the daemon's REST endpoints.
type API struct {
	base string
	http *http.Client
}

// NewAPI creates a client for a daemon at base, e.g. http://localhost:8181.
// Snapshot requests wait up to timeout.
func NewAPI(base string, timeout time.Duration) *API {
	return &API{
		base: strings.TrimSuffix(base, "/"),
		http: httpc.New(timeout),
	}
}

// Status fetches the stream status and current settings.
func (a *API) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := a.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Camera fetches the current settings.
func (a *API) Camera(ctx context.Context) (camera.Config, error) {
	var cfg camera.Config
	err := a.do(ctx, http.MethodGet, "/api/camera", nil, &cfg)
	return cfg, err
}

// UpdateCamera sends a partial settings update and returns the result.
func (a *API) UpdateCamera(ctx context.Context, params map[string]interface{}) (camera.Config, error) {
	var cfg camera.Config
	err := a.do(ctx, http.MethodPut, "/api/camera", params, &cfg)
	return cfg, err
}

// ApplyPreset replaces the settings with a named preset.
func (a *API) ApplyPreset(ctx context.Context, name string) (camera.Config, error) {
	var cfg camera.Config
	err := a.do(ctx, http.MethodPost, "/api/camera/presets/"+url.PathEscape(name), nil, &cfg)
	return cfg, err
}

// Snapshot fetches a single JPEG frame.
func (a *API) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := a.send(ctx, http.MethodGet, "/api/frame.jpg", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *API) do(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := a.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (a *API) send(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var reply struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &reply) == nil && reply.Error != "" {
			msg = reply.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
