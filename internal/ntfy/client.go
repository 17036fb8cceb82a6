// Package ntfy pushes CRM notifications to ntfy.sh (or a self-hosted ntfy server).
package ntfy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/crmlive/internal/notify"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// Client is a notify.NotificationSink backed by an ntfy topic. Pushed
// notifications cannot be retracted, so each tag is pushed at most once.
type Client struct {
	url      string // full URL: https://ntfy.sh/{topic}
	token    string // optional bearer token for reserved topics
	clickURL string
	http     *http.Client

	mu      sync.Mutex
	pushed  map[string]bool
	onClick func(tag string)
}

// New creates a new ntfy client. Topic can be a bare topic name (expanded to
// https://ntfy.sh/{topic}) or a full URL (https://ntfy.example.com/mytopic).
// An empty topic yields a sink whose permission is denied.
func New(topic, token, clickURL string) *Client {
	url := topic
	if topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		url = "https://ntfy.sh/" + topic
	}
	return &Client{
		url:      url,
		token:    token,
		clickURL: clickURL,
		http:     http.DefaultClient,
		pushed:   make(map[string]bool),
	}
}

func (c *Client) Permission() notify.Permission {
	if c.url == "" {
		return notify.PermissionDenied
	}
	return notify.PermissionGranted
}

// RequestPermission cannot prompt anyone; the topic is the permission.
func (c *Client) RequestPermission(context.Context) (notify.Permission, error) {
	return c.Permission(), nil
}

// OnClick is stored but never fired: ntfy opens the Click URL itself.
func (c *Client) OnClick(fn func(tag string)) {
	c.mu.Lock()
	c.onClick = fn
	c.mu.Unlock()
}

func (c *Client) Show(tag, title, body string) (notify.Shown, error) {
	return c.push(tag, title, body, "default", "bell")
}

// ShowEvent pushes ev with a priority matching its type.
func (c *Client) ShowEvent(tag string, ev protocol.NotificationEvent) (notify.Shown, error) {
	priority, tags := "default", "bell"
	if ev.Type == protocol.NotificationCustomerAssignment {
		priority, tags = "high", "bust_in_silhouette"
	}
	return c.push(tag, ev.Title, ev.Content, priority, tags)
}

// SendTest sends a test notification synchronously and returns any error.
func (c *Client) SendTest() error {
	return c.post("crmlive test", "Push notifications are working!", "default", "test_tube")
}

func (c *Client) push(tag, title, body, priority, tags string) (notify.Shown, error) {
	if c.url == "" {
		return nil, fmt.Errorf("ntfy: no topic configured")
	}
	c.mu.Lock()
	if c.pushed[tag] {
		c.mu.Unlock()
		return pushed{}, nil
	}
	c.pushed[tag] = true
	c.mu.Unlock()

	if err := c.post(title, body, priority, tags); err != nil {
		c.mu.Lock()
		delete(c.pushed, tag)
		c.mu.Unlock()
		return nil, err
	}
	return pushed{}, nil
}

func (c *Client) post(title, body, priority, tags string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)
	if c.clickURL != "" {
		req.Header.Set("Click", c.clickURL)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("ntfy: post failed", "err", err)
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("ntfy: HTTP %d", resp.StatusCode)
		slog.Warn("ntfy: post rejected", "status", resp.StatusCode)
		return err
	}
	return nil
}

// pushed is a delivered ntfy message. There is nothing to close remotely.
type pushed struct{}

func (pushed) Close() {}
