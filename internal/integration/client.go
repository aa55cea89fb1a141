// Package integration talks to the collaboration platform: the external
// service owning identity, room authorization, durable whiteboard
// content and analytics events.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"collaborative-whiteboard-server/internal/scene"
	"collaborative-whiteboard-server/internal/worker"
)

// ErrNotFound is returned by Fetch when the platform has no content for
// the room yet.
var ErrNotFound = fmt.Errorf("whiteboard content not found")

// UserInfo identifies the user behind a connection.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// RoomPermissions are the capabilities of a user within one room.
type RoomPermissions struct {
	CanRead          bool `json:"read"`
	CanUpdate        bool `json:"update"`
	MaxCollaborators int  `json:"maxCollaborators"`
}

// Credentials are the transport credentials of a connecting socket.
type Credentials struct {
	Authorization string
	Cookie        string
}

type HTTPClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	pool       *worker.WorkerPool
}

// NewHTTPClient builds a platform client. The worker pool carries the
// fire-and-forget analytics calls off the event path.
func NewHTTPClient(baseURL, secret string, pool *worker.WorkerPool) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		pool: pool,
	}
}

// Who resolves transport credentials to a user identity.
func (c *HTTPClient) Who(ctx context.Context, creds Credentials) (UserInfo, error) {
	url := fmt.Sprintf("%s/internal/whiteboards/who", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return UserInfo{}, err
	}
	if creds.Authorization != "" {
		req.Header.Set("Authorization", creds.Authorization)
	}
	if creds.Cookie != "" {
		req.Header.Set("Cookie", creds.Cookie)
	}

	var info UserInfo
	if err := c.doJSON(req, &info); err != nil {
		return UserInfo{}, err
	}
	return info, nil
}

// Info fetches the user's capabilities for a room, together with the
// room's collaborator capacity.
func (c *HTTPClient) Info(ctx context.Context, userID, roomID string) (RoomPermissions, error) {
	url := fmt.Sprintf(
		"%s/internal/whiteboards/%s/permissions?user=%s",
		c.baseURL,
		roomID,
		userID,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return RoomPermissions{}, err
	}

	var perms RoomPermissions
	if err := c.doJSON(req, &perms); err != nil {
		return RoomPermissions{}, err
	}
	return perms, nil
}

type contentResponse struct {
	Content json.RawMessage `json:"content"`
}

// Fetch loads the persisted content of a room.
func (c *HTTPClient) Fetch(ctx context.Context, roomID string) (scene.Content, error) {
	url := fmt.Sprintf(
		"%s/internal/whiteboards/%s/content",
		c.baseURL,
		roomID,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return scene.Content{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return scene.Content{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return scene.Content{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return scene.Content{}, fmt.Errorf(
			"platform fetch content error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	var payload contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return scene.Content{}, err
	}

	var content scene.Content
	if err := json.Unmarshal(payload.Content, &content); err != nil {
		return scene.Content{}, err
	}
	return content, nil
}

// Save persists room content to the platform.
func (c *HTTPClient) Save(ctx context.Context, roomID string, content scene.Content) error {
	url := fmt.Sprintf(
		"%s/internal/whiteboards/%s/content",
		c.baseURL,
		roomID,
	)

	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	body, err := json.Marshal(contentResponse{Content: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		url,
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"platform save error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	return nil
}

type contentModifiedEvent struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// ContentModified registers that a user modified a room's content.
// Fire-and-forget: failures are logged by the worker pool.
func (c *HTTPClient) ContentModified(userID, roomID string) {
	c.pool.Submit(func(ctx context.Context) error {
		url := fmt.Sprintf("%s/internal/whiteboards/events/content-modified", c.baseURL)
		return c.postJSON(ctx, url, contentModifiedEvent{UserID: userID, RoomID: roomID})
	})
}

type contributionEvent struct {
	RoomID string     `json:"roomId"`
	Users  []UserInfo `json:"users"`
}

// Contribution reports the set of users who contributed to a room
// within the trailing contribution window. Fire-and-forget.
func (c *HTTPClient) Contribution(roomID string, users []UserInfo) {
	c.pool.Submit(func(ctx context.Context) error {
		url := fmt.Sprintf("%s/internal/whiteboards/events/contribution", c.baseURL)
		return c.postJSON(ctx, url, contributionEvent{RoomID: roomID, Users: users})
	})
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Internal-Secret", c.secret)
	return c.httpClient.Do(req)
}

func (c *HTTPClient) doJSON(req *http.Request, out any) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"platform error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf(
			"platform event error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}
	return nil
}
