package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/buenedata/plugin-update-server/pkg/release"
)

const apiPrefix = "api/v1"

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

type Client struct {
	serverURL  string
	httpClient *http.Client
}

func New(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func setAuth(adminAccessToken string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", adminAccessToken)
	}
}

func setNonce(nonce string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("X-WP-Nonce", nonce)
	}
}

func getPluginURL(pluginName string) string {
	return fmt.Sprintf("plugins/%s", url.PathEscape(pluginName))
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body io.Reader, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.serverURL, apiPrefix, endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		err := json.NewDecoder(resp.Body).Decode(&errResp)
		if err != nil {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return &errResp
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any, modifyRequestFns ...func(r *http.Request)) error {
	resp, err := c.sendRequest(ctx, http.MethodGet, endpoint, nil, modifyRequestFns...)
	if err != nil {
		return err
	}
	return c.decodeResponse(resp, v)
}

func (c *Client) GetPlugins(ctx context.Context) ([]string, error) {
	var plugins []string
	if err := c.getJSON(ctx, "plugins", &plugins); err != nil {
		return nil, err
	}
	return plugins, nil
}

// UpdateCheck asks the server whether version is outdated. An empty version checks the
// version the server has on record.
func (c *Client) UpdateCheck(ctx context.Context, pluginName, version string) (*release.UpdateCheckResponse, error) {
	var res release.UpdateCheckResponse
	err := c.getJSON(ctx, getPluginURL(pluginName)+"/update-check", &res, func(r *http.Request) {
		if version != "" {
			r.URL.RawQuery = url.Values{"version": {version}}.Encode()
		}
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetPluginInfo(ctx context.Context, pluginName string) (*release.PluginInformation, error) {
	var info release.PluginInformation
	if err := c.getJSON(ctx, getPluginURL(pluginName)+"/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetUpdates(ctx context.Context) (*release.UpdateTransient, error) {
	var transient release.UpdateTransient
	if err := c.getJSON(ctx, "updates", &transient); err != nil {
		return nil, err
	}
	return &transient, nil
}

// CheckNow runs a manual update check. nonce must be issued for the check_updates action.
func (c *Client) CheckNow(ctx context.Context, pluginName, nonce string) (*release.ManualCheckResponse, error) {
	resp, err := c.sendRequest(ctx, http.MethodPost, getPluginURL(pluginName)+"/check", nil, setNonce(nonce))
	if err != nil {
		return nil, err
	}
	var res release.ManualCheckResponse
	if err := c.decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) RefreshUpdates(ctx context.Context, adminAccessToken string) (map[string]*release.Decision, error) {
	resp, err := c.sendRequest(ctx, http.MethodPut, "updates", nil, setAuth(adminAccessToken))
	if err != nil {
		return nil, err
	}
	var decisions map[string]*release.Decision
	if err := c.decodeResponse(resp, &decisions); err != nil {
		return nil, err
	}
	return decisions, nil
}

func (c *Client) InvalidatePlugin(ctx context.Context, adminAccessToken, pluginName string) error {
	resp, err := c.sendRequest(ctx, http.MethodDelete, getPluginURL(pluginName)+"/cache", nil, setAuth(adminAccessToken))
	if err != nil {
		return err
	}
	var invalidateResponse map[string]bool
	if err := c.decodeResponse(resp, &invalidateResponse); err != nil {
		return err
	}
	if !invalidateResponse["ok"] {
		return fmt.Errorf("invalidate plugin %s failed: reason unknown", pluginName)
	}
	return nil
}

func (c *Client) IssueNonce(ctx context.Context, adminAccessToken string, nonceReq *release.NonceRequest) (*release.NonceResponse, error) {
	var bodyBuffer bytes.Buffer
	if err := json.NewEncoder(&bodyBuffer).Encode(nonceReq); err != nil {
		return nil, err
	}
	resp, err := c.sendRequest(ctx, http.MethodPost, "nonces", &bodyBuffer, setAuth(adminAccessToken))
	if err != nil {
		return nil, err
	}
	var res release.NonceResponse
	if err := c.decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
