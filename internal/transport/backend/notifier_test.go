package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-status-stream/internal/auth"
	"job-status-stream/internal/entity"
	"job-status-stream/internal/transport/backend"
)

func TestNotifier_Disconnect(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotAuth = r.Method, r.URL.Path, r.Header.Get("Authorization")
		w.Write([]byte("closed"))
	}))
	defer srv.Close()

	n := backend.NewNotifier(srv.URL+"/api", nil, auth.Static("secret"))
	require.NoError(t, n.Disconnect(context.Background(), "story 1"))

	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/video/status/sse/story 1", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestNotifier_DisconnectBatch(t *testing.T) {
	var got struct {
		StoryIDs []string `json:"storyIds"`
	}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/video/status/sse/batch-disconnect", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := backend.NewNotifier(srv.URL, nil, nil)
	require.NoError(t, n.DisconnectBatch(context.Background(), []entity.JobID{"a", "b", "c"}))
	require.NoError(t, n.DisconnectBatch(context.Background(), nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b", "c"}, got.StoryIDs)
}

func TestNotifier_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := backend.NewNotifier(srv.URL, nil, nil)
	assert.ErrorIs(t, n.Disconnect(context.Background(), "a"), backend.ErrUnexpectedStatus)
	assert.ErrorIs(t, n.DisconnectBatch(context.Background(), []entity.JobID{"a"}), backend.ErrUnexpectedStatus)
}
