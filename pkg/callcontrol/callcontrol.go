// Package callcontrol implements the §4.6/§6 CallControl sink: the tool
// invocation that transfers or hangs up the underlying telephony leg once
// a response has finished playing and the client confirms playback_safe.
package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPCallControl dispatches transfer/hangup requests to a configured
// telephony control-plane webhook over plain JSON/HTTP, the same
// hand-rolled request style the provider adapters use.
type HTTPCallControl struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPCallControl(baseURL, apiKey string) *HTTPCallControl {
	return &HTTPCallControl{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  http.DefaultClient,
	}
}

// Transfer implements pipeline.CallControl.
func (c *HTTPCallControl) Transfer(ctx context.Context, channelID, destination string) error {
	return c.post(ctx, "/channels/"+channelID+"/transfer", map[string]string{
		"destination": destination,
	})
}

// Hangup implements pipeline.CallControl.
func (c *HTTPCallControl) Hangup(ctx context.Context, channelID string) error {
	return c.post(ctx, "/channels/"+channelID+"/hangup", nil)
}

func (c *HTTPCallControl) post(ctx context.Context, path string, payload any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callcontrol: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callcontrol: %s: status %d", path, resp.StatusCode)
	}
	return nil
}
