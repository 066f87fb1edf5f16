package queue_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-fulfillment/internal/queue"
)

type adminFixture struct {
	store  *memoryStore
	client *redis.Client
	router http.Handler
}

func newAdminFixture(t *testing.T) adminFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	handler := &queue.AdminHandler{
		Store:             store,
		Queue:             queue.Enqueuer{R: client, Prefix: "adm", DedupTTL: time.Minute, MaxAttempts: 5},
		Kind:              "fulfillment-stage",
		PageSize:          10,
		Logger:            zerolog.Nop(),
		VisibilityTimeout: time.Minute,
	}
	r := chi.NewRouter()
	r.Route("/queue", handler.Routes)
	return adminFixture{store: store, client: client, router: r}
}

func (f adminFixture) deadLetter(t *testing.T, stage string) queue.DLQEntry {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"kind":         "fulfillment-stage",
		"key":          stage + ":1700000000",
		"payload":      []byte(`{"stage":"` + stage + `"}`),
		"attempt":      3,
		"max_attempts": 3,
		"available_at": time.Now().UnixNano(),
	})
	require.NoError(t, err)
	lastErr := "fulfillment: provider unavailable"
	entry := queue.DLQEntry{
		Kind:           "fulfillment-stage",
		IdempotencyKey: stage + ":1700000000",
		Payload:        raw,
		Attempts:       3,
		LastError:      &lastErr,
	}
	entry.ID, err = f.store.InsertQueueDlq(context.Background(), entry)
	require.NoError(t, err)
	return entry
}

func (f adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestDLQReplayByID(t *testing.T) {
	f := newAdminFixture(t)
	entry := f.deadLetter(t, "ready")

	rr := f.do(http.MethodPost, "/queue/dlq/replay", `{"ids":["`+entry.ID.String()+`","not-a-uuid"]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Replayed []string          `json:"replayed"`
		Failed   map[string]string `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, []string{entry.ID.String()}, resp.Replayed)
	require.Equal(t, "invalid uuid", resp.Failed["not-a-uuid"])

	members, err := f.client.ZRange(context.Background(), "adm:queue:fulfillment-stage", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)
	var msg struct {
		Payload []byte `json:"payload"`
		Attempt int    `json:"attempt"`
	}
	require.NoError(t, json.Unmarshal([]byte(members[0]), &msg))
	require.JSONEq(t, `{"stage":"ready"}`, string(msg.Payload))
	require.Zero(t, msg.Attempt)

	_, err = f.store.GetQueueDlq(context.Background(), entry.ID)
	require.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestDLQReplayRequiresSelector(t *testing.T) {
	f := newAdminFixture(t)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/queue/dlq/replay", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/queue/dlq/replay", ``).Code)
}

func TestDLQListAndDiscard(t *testing.T) {
	f := newAdminFixture(t)
	first := f.deadLetter(t, "ready")
	f.deadLetter(t, "stock_levels")

	rr := f.do(http.MethodGet, "/queue/dlq?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Kind  string `json:"kind"`
		Total int    `json:"total"`
		Data  []struct {
			LastError string          `json:"lastError"`
			Payload   json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Equal(t, "fulfillment-stage", list.Kind)
	require.Equal(t, 2, list.Total)
	require.Len(t, list.Data, 1)
	require.Contains(t, list.Data[0].LastError, "provider unavailable")
	require.Contains(t, string(list.Data[0].Payload), "stage")

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/queue/dlq/"+first.ID.String(), "").Code)
	require.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/queue/dlq/"+first.ID.String(), "").Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/queue/dlq/nope", "").Code)

	count, err := f.store.CountQueueDlq(context.Background(), "fulfillment-stage")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestQueueStatsDefaultsKind(t *testing.T) {
	f := newAdminFixture(t)
	f.deadLetter(t, "fulfilling")
	enq := queue.Enqueuer{R: f.client, Prefix: "adm"}
	require.NoError(t, enq.Enqueue(context.Background(), queue.Task{Kind: "fulfillment-stage", Payload: []byte(`{"stage":"ready"}`)}))

	rr := f.do(http.MethodGet, "/queue/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	require.Equal(t, "fulfillment-stage", stats["kind"])
	require.EqualValues(t, 1, stats["ready"])
	require.EqualValues(t, 0, stats["processing"])
	require.EqualValues(t, 1, stats["dlq"])
	require.EqualValues(t, 60, stats["visibility_timeout"])
}
