package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMastodonClient(t *testing.T, instance string) *MastodonClient {
	t.Helper()
	credsFile := writeCredsFile(t, fmt.Sprintf(
		`{"access_token":{"access_token":"toot-token"},"client_credentials":{"client_id":"cid","client_secret":"cs"},"instance":%q}`,
		instance))
	client, err := NewMastodonClient(credsFile, testLogger())
	require.NoError(t, err)
	return client
}

func TestMastodonRefreshValidatesCreds(t *testing.T) {
	client := newTestMastodonClient(t, "https://mastodon.example")
	assert.NoError(t, client.RefreshCredentials(context.Background()))

	empty, err := NewMastodonClient(writeCredsFile(t, `{}`), testLogger())
	require.NoError(t, err)
	refreshErr := empty.RefreshCredentials(context.Background())
	var authErr *AuthError
	assert.True(t, errors.As(refreshErr, &authErr))
}

func TestMastodonPublishThreadsReplies(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/statuses", r.URL.Path)
		assert.Equal(t, "Bearer toot-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"id":"109500"}`)
	}))
	defer server.Close()

	client := newTestMastodonClient(t, server.URL)

	token, err := client.Publish(context.Background(), simplePost(t), json.RawMessage(`"109499"`))
	require.NoError(t, err)
	assert.Equal(t, `"109500"`, string(token))
	assert.Equal(t, "109499", gotBody["in_reply_to_id"])
	assert.Contains(t, gotBody["status"], "B-1: Test resolution")
}

func TestMastodonPublishFailureCarriesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"Validation failed"}`)
	}))
	defer server.Close()

	client := newTestMastodonClient(t, server.URL)

	_, err := client.Publish(context.Background(), simplePost(t), nil)
	var pubErr *PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "mastodon", pubErr.Platform)
	assert.Contains(t, pubErr.Payload, "Validation failed")
}
