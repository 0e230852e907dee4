package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"slidesync/api/internal/history"
	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/room"
	"slidesync/api/internal/search"
	"slidesync/api/internal/session"
	"slidesync/api/internal/store"
)

type testApp struct {
	store    *store.MemoryStore
	registry *session.Registry
	server   *httptest.Server
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.New(io.Discard)
	st := store.NewMemoryStore()
	rooms := room.NewMultiplexer(log, 64)
	registry := session.NewRegistry(st, log)
	coordinator := presence.NewCoordinator(st, rooms, log)
	index := search.NewService(nil, nil, search.NewMemory(), log)
	snapshots := history.New(t.TempDir(), log)
	pipeline := mutation.New(st, rooms, log, mutation.Options{
		StoreTimeout: time.Second,
		NewID:        uuid.NewString,
		Observers:    []mutation.Observer{index, snapshots},
	})

	service := NewService(Deps{
		Store:    st,
		Pipeline: pipeline,
		Registry: registry,
		Presence: coordinator,
		Rooms:    rooms,
		Search:   index,
		History:  snapshots,
		NewID:    uuid.NewString,
		Log:      log,
	})
	realtime := NewRealtime(rooms, registry, coordinator, pipeline, service, "*", log)
	server := httptest.NewServer(NewHTTPServer(service, realtime, "*", log).Handler())
	t.Cleanup(server.Close)
	t.Cleanup(pipeline.Flush)

	return &testApp{store: st, registry: registry, server: server}
}

func (a *testApp) do(t *testing.T, method, path, displayName string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if displayName != "" {
		req.Header.Set(displayNameHeader, displayName)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

// createPresentation returns the new presentation id and its first page id.
func (a *testApp) createPresentation(t *testing.T, title, owner string) (string, string) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/api/presentations", "", map[string]any{
		"title":           title,
		"creatorNickname": owner,
	})
	require.Equal(t, http.StatusCreated, status, body)
	id := body["id"].(string)

	pages, err := a.store.ListPages(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	return id, pages[0].ID
}

// addParticipant binds a display name to a presentation without a socket.
func (a *testApp) addParticipant(t *testing.T, documentID, name, role string) {
	t.Helper()
	_, err := a.registry.Identify(context.Background(), "http-"+name, documentID, name, role)
	require.NoError(t, err)
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int
}

type frame struct {
	Event string         `json:"event"`
	Ref   string         `json:"ref"`
	Data  map[string]any `json:"data"`
}

func (a *testApp) dial(t *testing.T) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *wsClient) send(event string, data map[string]any) string {
	c.t.Helper()
	c.seq++
	ref := event + "-" + strconv.Itoa(c.seq)
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "ref": ref, "data": data}))
	return ref
}

func (c *wsClient) next() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// waitFor skips frames until one with the given event arrives.
func (c *wsClient) waitFor(event string) frame {
	c.t.Helper()
	for {
		f := c.next()
		if f.Event == event {
			return f
		}
	}
}

func (c *wsClient) join(documentID, name, role string) frame {
	c.t.Helper()
	c.send(EventJoinDocument, map[string]any{"documentId": documentID, "displayName": name, "role": role})
	joined := c.waitFor(EventJoinedDocument)
	c.waitFor(presence.EventParticipantsUpdated)
	return joined
}

func participantNames(f frame) []string {
	var names []string
	for _, p := range f.Data["participants"].([]any) {
		names = append(names, p.(map[string]any)["displayName"].(string))
	}
	return names
}
