package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"feedpipe/app"
	"feedpipe/domain"
)

type Client struct {
	addr string
	http *http.Client
}

func NewClient(addr string) *Client {
	return &Client{addr: addr, http: &http.Client{Timeout: 2 * time.Minute}}
}

// Source is a source as reported by the control API.
type Source struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Interval    string    `json:"interval"`
	FetchStatus string    `json:"fetch_status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (c *Client) AddSource(name, feedURL string, interval time.Duration) (Source, error) {
	req := map[string]any{"name": name, "url": feedURL}
	if interval > 0 {
		req["interval"] = interval.String()
	}
	var out Source
	err := c.do(http.MethodPost, "/sources", req, &out)
	return out, err
}

// SetInterval changes the fetch interval of a source and returns the old one.
func (c *Client) SetInterval(ref string, d time.Duration) (time.Duration, error) {
	var r struct {
		Old Source `json:"old"`
		New Source `json:"new"`
	}
	if err := c.do(http.MethodPatch, sourcePath(ref), map[string]any{"interval": d.String()}, &r); err != nil {
		return 0, err
	}
	return time.ParseDuration(r.Old.Interval)
}

func (c *Client) DeleteSource(ref string) error {
	return c.do(http.MethodDelete, sourcePath(ref), nil, nil)
}

func (c *Client) Fetch(ref string) (app.FetchTrigger, error) {
	var out app.FetchTrigger
	err := c.do(http.MethodPost, sourcePath(ref)+"/fetch", nil, &out)
	return out, err
}

func (c *Client) Status(ref string) (domain.StatusReport, error) {
	var out domain.StatusReport
	err := c.do(http.MethodGet, sourcePath(ref)+"/status", nil, &out)
	return out, err
}

func (c *Client) SetWorkers(n int) (int, error) {
	var r struct {
		Old int `json:"old"`
		New int `json:"new"`
	}
	if err := c.do(http.MethodPost, "/set-workers", map[string]any{"workers": n}, &r); err != nil {
		return 0, err
	}
	return r.Old, nil
}

func sourcePath(ref string) string {
	return "/sources/" + url.PathEscape(ref)
}

func (c *Client) do(method, path string, body, out any) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, "http://"+c.addr+path, &payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("server error: %s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
