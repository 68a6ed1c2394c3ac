// Package docstore writes scenes back to the external document store.
package docstore

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

	"github.com/Vasu1712/scenyx-hub/internal/reconcile"
)

const (
	savePath       = "/index.php/apps/whiteboard/"
	defaultTimeout = 5 * time.Second
)

// Client PUTs scenes to the document store on behalf of a user.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Save stores scene as fileID's content, authenticated with the user's token.
func (c *Client) Save(ctx context.Context, fileID, token string, scene reconcile.Scene) error {
	body, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("encoding scene %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+savePath+url.PathEscape(fileID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("saving scene %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("saving scene %s: unexpected status %d", fileID, resp.StatusCode)
	}
	return nil
}
