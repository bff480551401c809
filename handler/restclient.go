package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTClient is a SiteClient backed by the site gateway's HTTP API.
// Every call is a single request; retries are the dispatcher's job.
type RESTClient struct {
	base   string
	token  string
	client *http.Client
	logger *slog.Logger
}

// NewRESTClient creates a gateway client. A zero timeout defaults to
// 30 seconds.
func NewRESTClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *RESTClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

var _ SiteClient = (*RESTClient)(nil)

func (c *RESTClient) CreateFolder(ctx context.Context, siteURL, library, parentPath, name string) (int, error) {
	var out struct {
		FolderID int `json:"folder_id"`
	}
	err := c.call(ctx, http.MethodPost, "/folders", map[string]any{
		"site_url":    siteURL,
		"library":     library,
		"parent_path": parentPath,
		"name":        name,
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.FolderID, nil
}

func (c *RESTClient) ApplyPermissions(ctx context.Context, siteURL, library string, folderID int, grants []Grant) error {
	return c.call(ctx, http.MethodPut, fmt.Sprintf("/folders/%d/permissions", folderID), map[string]any{
		"site_url": siteURL,
		"library":  library,
		"grants":   grants,
	}, nil)
}

func (c *RESTClient) CloseFolder(ctx context.Context, siteURL, library string, folderID int) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/folders/%d/close", folderID), map[string]any{
		"site_url": siteURL,
		"library":  library,
	}, nil)
}

func (c *RESTClient) ResetInheritance(ctx context.Context, siteURL, library string, folderID int) error {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("/folders/%d/reset", folderID), map[string]any{
		"site_url": siteURL,
		"library":  library,
	}, nil)
}

func (c *RESTClient) FolderExists(ctx context.Context, siteURL, library string, folderID int) (bool, error) {
	q := url.Values{"site_url": {siteURL}, "library": {library}}
	path := fmt.Sprintf("/folders/%d?%s", folderID, q.Encode())
	err := c.call(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	var se *SiteError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// call performs one gateway request and decodes the response into out
// when out is non-nil. Non-2xx responses become *SiteError with the
// gateway's error code.
func (c *RESTClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("site gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("site gateway: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("site gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFromResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("site gateway: decode response: %w", err)
		}
	}
	return nil
}

func (c *RESTClient) errorFromResponse(resp *http.Response) error {
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		payload.Message = strings.TrimSpace(string(data))
		if payload.Message == "" {
			payload.Message = resp.Status
		}
	}
	if payload.Code == 0 {
		payload.Code = resp.StatusCode
	}
	return &SiteError{Code: payload.Code, Message: payload.Message}
}

// DryRunClient is a SiteClient that succeeds every call without
// contacting any site. It backs local development and smoke tests.
type DryRunClient struct {
	logger *slog.Logger
}

// NewDryRunClient creates a no-op site client.
func NewDryRunClient(logger *slog.Logger) *DryRunClient {
	return &DryRunClient{logger: logger}
}

var _ SiteClient = (*DryRunClient)(nil)

func (c *DryRunClient) CreateFolder(_ context.Context, _, library, _, name string) (int, error) {
	c.logger.Debug("dry-run create folder", slog.String("library", library), slog.String("name", name))
	return 1, nil
}

func (c *DryRunClient) ApplyPermissions(_ context.Context, _, _ string, folderID int, grants []Grant) error {
	c.logger.Debug("dry-run apply permissions", slog.Int("folder_id", folderID), slog.Int("grants", len(grants)))
	return nil
}

func (c *DryRunClient) CloseFolder(_ context.Context, _, _ string, folderID int) error {
	c.logger.Debug("dry-run close folder", slog.Int("folder_id", folderID))
	return nil
}

func (c *DryRunClient) ResetInheritance(_ context.Context, _, _ string, folderID int) error {
	c.logger.Debug("dry-run reset inheritance", slog.Int("folder_id", folderID))
	return nil
}

func (c *DryRunClient) FolderExists(_ context.Context, _, _ string, folderID int) (bool, error) {
	c.logger.Debug("dry-run folder exists", slog.Int("folder_id", folderID))
	return true, nil
}
