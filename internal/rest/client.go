// Package rest talks to the CRM collaborator endpoints the realtime layer
// falls back to: unread counts, mark-read, and conversation/message listing.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ehrlich-b/crmlive/internal/credentials"
	"github.com/ehrlich-b/crmlive/internal/protocol"
)

// ErrLoggedOut is returned when the credential provider has no usable token.
var ErrLoggedOut = errors.New("rest: not logged in")

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	creds   credentials.Provider
	limiter *rate.Limiter
	http    *http.Client
}

// Options tune a Client. Zero values mean 5 requests/s with a burst of 10.
type Options struct {
	Rate       float64
	Burst      int
	HTTPClient *http.Client
}

func New(baseURL string, creds credentials.Provider, opts Options) *Client {
	if opts.Rate <= 0 {
		opts.Rate = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		http:    hc,
	}
}

// UnreadCount returns the number of unread notifications.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, 0, http.MethodGet, "/notifications/unread-count", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return 0, err
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Count, nil
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	resp, err := c.do(ctx, 0, http.MethodPatch, "/notifications/"+strconv.FormatInt(id, 10)+"/read", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK, http.StatusNoContent)
}

// MarkAllRead marks every notification read and returns how many changed.
func (c *Client) MarkAllRead(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, 0, http.MethodPatch, "/notifications/read-all", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return 0, err
	}
	var out struct {
		Updated int `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Updated, nil
}

// ListNotifications returns recent notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]protocol.NotificationEvent, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("isRead", "false")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, 0, http.MethodGet, "/notifications", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out []protocol.NotificationEvent
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ListConversations returns one page of projectID's conversations in the same
// shape the chat socket uses for conversationsList. A zero projectID uses the
// project from the credentials.
func (c *Client) ListConversations(ctx context.Context, projectID int64, limit int, cursor string) (*protocol.ConversationsListPayload, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	resp, err := c.do(ctx, projectID, http.MethodGet, "/chat/conversations", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out protocol.ConversationsListPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if cursor != "" && out.Cursor == nil {
		out.Cursor = &cursor
	}
	return &out, nil
}

// ListMessages returns one page of a conversation's messages.
func (c *Client) ListMessages(ctx context.Context, projectID, conversationID int64, limit int, cursor string) (*protocol.MessagesListPayload, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/chat/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	resp, err := c.do(ctx, projectID, http.MethodGet, path, q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var out protocol.MessagesListPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.ConversationID == 0 {
		out.ConversationID = conversationID
	}
	if cursor != "" && out.Cursor == nil {
		out.Cursor = &cursor
	}
	return &out, nil
}

// HTTP helpers

// do sends an authenticated request scoped to project, or to the credentials'
// project when project is zero.
func (c *Client) do(ctx context.Context, project int64, method, path string, q url.Values) (*http.Response, error) {
	creds, ok := c.creds.Credentials()
	if !ok {
		return nil, ErrLoggedOut
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Accept", "application/json")
	if project == 0 {
		project = creds.ProjectID
	}
	if project != 0 {
		req.Header.Set("X-Project-Id", strconv.FormatInt(project, 10))
	}
	return c.http.Do(req)
}

func checkStatus(resp *http.Response, expected ...int) error {
	for _, code := range expected {
		if resp.StatusCode == code {
			return nil
		}
	}
	body, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			return &StatusError{Status: resp.StatusCode, Message: errResp.Message}
		}
		if errResp.Error != "" {
			return &StatusError{Status: resp.StatusCode, Message: errResp.Error}
		}
	}
	return &StatusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
