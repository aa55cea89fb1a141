package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"collaborative-whiteboard-server/internal/scene"

	"github.com/stretchr/testify/assert"
)

func testClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, "test-secret", nil)
}

func TestWho(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/whiteboards/who", r.URL.Path)
		assert.Equal(t, "test-secret", r.Header.Get("X-Internal-Secret"))
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","email":"ada@example.com"}`))
	})

	info, err := client.Who(context.Background(), Credentials{Authorization: "Bearer token"})

	assert.NoError(t, err)
	assert.Equal(t, "u1", info.ID)
	assert.Equal(t, "ada@example.com", info.Email)
}

func TestWhoUnauthorized(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.Who(context.Background(), Credentials{})
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/whiteboards/room-1/permissions", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"read":true,"update":true,"maxCollaborators":4}`))
	})

	perms, err := client.Info(context.Background(), "u1", "room-1")

	assert.NoError(t, err)
	assert.True(t, perms.CanRead)
	assert.True(t, perms.CanUpdate)
	assert.Equal(t, 4, perms.MaxCollaborators)
}

func TestFetch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/whiteboards/room-1/content", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":{"type":"excalidraw","version":2,"elements":[{"id":"a","type":"rectangle","version":1,"versionNonce":1}],"files":{}}}`))
	})

	content, err := client.Fetch(context.Background(), "room-1")

	assert.NoError(t, err)
	assert.Equal(t, "excalidraw", content.Type)
	assert.Len(t, content.Elements, 1)
}

func TestFetchNotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Fetch(context.Background(), "room-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave(t *testing.T) {
	var saved []byte
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/internal/whiteboards/room-1/content", r.URL.Path)
		saved, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	content := scene.InitialContent()
	err := client.Save(context.Background(), "room-1", content)

	assert.NoError(t, err)
	assert.Contains(t, string(saved), `"excalidraw"`)
}

func TestSaveServerError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.Save(context.Background(), "room-1", scene.InitialContent())
	assert.Error(t, err)
}

func TestRequestTimeout(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Who(ctx, Credentials{})
	assert.Error(t, err)
}
