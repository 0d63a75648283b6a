// Package youtube is a minimal client for the two Data API v3 calls the
// tracker needs: live-streaming details for a known video, and a
// currently-live search for the monitored channel.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

const requestTimeout = 10 * time.Second

// LiveDetails is the liveStreamingDetails shape for a single video. Ordinary
// uploads carry no details at all; an ended livestream carries ActualEndTime.
type LiveDetails struct {
	ActualStartTime string `json:"actualStartTime"`
	ActualEndTime   string `json:"actualEndTime"`
}

// Client calls the YouTube Data API v3.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient returns a Client using the given API key.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, defaultBaseURL)
}

// NewClientWithBaseURL is used by tests to point the client at a stub server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// LiveStreamingDetails fetches liveStreamingDetails for videoID. The details
// are nil when the video has none (an ordinary upload) or no longer exists.
func (c *Client) LiveStreamingDetails(ctx context.Context, videoID string) (*LiveDetails, error) {
	q := url.Values{}
	q.Set("part", "liveStreamingDetails")
	q.Set("id", videoID)
	q.Set("key", c.apiKey)

	var out struct {
		Items []struct {
			LiveStreamingDetails *LiveDetails `json:"liveStreamingDetails"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/videos", q, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return out.Items[0].LiveStreamingDetails, nil
}

// SearchLive returns the id of a currently live video on the channel, if any.
func (c *Client) SearchLive(ctx context.Context, channelID string) (string, bool, error) {
	q := url.Values{}
	q.Set("part", "id")
	q.Set("channelId", channelID)
	q.Set("eventType", "live")
	q.Set("type", "video")
	q.Set("maxResults", "1")
	q.Set("key", c.apiKey)

	var out struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/search", q, &out); err != nil {
		return "", false, err
	}
	if len(out.Items) == 0 || out.Items[0].ID.VideoID == "" {
		return "", false, nil
	}
	return out.Items[0].ID.VideoID, true, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("youtube %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("youtube %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("youtube %s: decode response: %w", path, err)
	}
	return nil
}
