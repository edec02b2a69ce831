package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/backend/sqlite"
	"github.com/parleychat/parley/internal/backend/wschannel"
	"github.com/parleychat/parley/internal/chat"
)

var apiBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *wschannel.Hub) {
	t.Helper()
	hub := wschannel.NewHub()
	store, err := sqlite.Open(":memory:",
		sqlite.WithPublisher(hub),
		sqlite.WithNow(func() time.Time { return apiBase }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(newServerMux(store, hub))
	t.Cleanup(srv.Close)
	return srv, hub
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createViaAPI(t *testing.T, srv *httptest.Server, author, text string) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/messages", createRequest{
		ConversationID: "general",
		AuthorID:       author,
		Text:           text,
		AuthoredAt:     apiBase,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created createResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	return created.ID
}

func TestAPI_CreateAndHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	id := createViaAPI(t, srv, "alice", "hello")
	assert.Equal(t, "1", id)

	resp, err := http.Get(srv.URL + "/api/history?conversation=general")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []historyEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, "alice", entries[0].AuthorID)
	assert.Equal(t, "hello", entries[0].Text)
	assert.False(t, entries[0].Deleted)
}

func TestAPI_CreateRejectsEmptyDraft(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/messages", createRequest{
		ConversationID: "general",
		AuthorID:       "alice",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_TombstoneEnforcesAuthorship(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createViaAPI(t, srv, "alice", "hers")

	resp := postJSON(t, srv.URL+"/api/tombstone", tombstoneRequest{
		ConversationID: "general", ID: id, AuthorID: "bob",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/tombstone", tombstoneRequest{
		ConversationID: "general", ID: id, AuthorID: "alice",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAPI_TombstoneUnknownMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/tombstone", tombstoneRequest{
		ConversationID: "general", ID: "99", AuthorID: "alice",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_HistoryShowsTombstone(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createViaAPI(t, srv, "alice", "regret")

	resp := postJSON(t, srv.URL+"/api/tombstone", tombstoneRequest{
		ConversationID: "general", ID: id, AuthorID: "alice",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	histResp, err := http.Get(srv.URL + "/api/history?conversation=general")
	require.NoError(t, err)
	defer histResp.Body.Close()
	var entries []historyEntry
	require.NoError(t, json.NewDecoder(histResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Deleted)
	assert.Equal(t, "This message was deleted", entries[0].Text)
}

func TestAPI_PushChannelReceivesCommits(t *testing.T) {
	srv, hub := newTestServer(t)

	channel := wschannel.NewChannel("ws" + srv.URL[len("http"):] + "/ws")
	received := make(chan string, 4)
	sub, err := channel.Subscribe(context.Background(), "general", func(ev chat.Event) {
		if ev.Create != nil {
			received <- ev.Create.Text
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("general") == 1
	}, 2*time.Second, 5*time.Millisecond)

	createViaAPI(t, srv, "alice", "broadcast me")

	select {
	case text := <-received:
		assert.Equal(t, "broadcast me", text)
	case <-time.After(2 * time.Second):
		t.Fatal("create was not broadcast to the push channel")
	}
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
