package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrace/logsync/internal/domain"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]string)}
}

func (c *mapCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	if !ok {
		return "", domain.ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

type fakeLark struct {
	tokenCalls  int
	createCalls int
	updateCalls int

	lastUpdate map[string]any
	failCode   int
}

func (f *fakeLark) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":                0,
			"msg":                 "ok",
			"tenant_access_token": "t-abc",
			"expire":              7200,
		})
	})

	mux.HandleFunc("/apps/app_token/tables/tbl_logs/records/batch_create", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls++
		if r.Header.Get("Authorization") != "Bearer t-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if f.failCode != 0 {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": f.failCode, "msg": "boom"})
			return
		}

		var req struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		records := make([]map[string]any, 0, len(req.Records))
		for i, rec := range req.Records {
			records = append(records, map[string]any{
				"record_id": fmt.Sprintf("rec_%03d", i+1),
				"fields":    rec.Fields,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 0, "msg": "ok",
			"data": map[string]any{"records": records},
		})
	})

	mux.HandleFunc("/apps/app_token/tables/tbl_logs/records/batch_update", func(w http.ResponseWriter, r *http.Request) {
		f.updateCalls++
		if f.failCode != 0 {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": f.failCode, "msg": "boom"})
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastUpdate)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
	})

	return mux
}

func newTestClient(t *testing.T, fake *fakeLark, cache domain.Cache) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:   srv.URL + "/apps",
		AuthURL:   srv.URL + "/auth",
		AppID:     "app-id",
		AppSecret: "app-secret",
		AppToken:  "app_token",
	}, cache, zerolog.Nop())
}

func TestCreateRecords_MapsActorReferences(t *testing.T) {
	fake := &fakeLark{}
	c := newTestClient(t, fake, newMapCache())

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	created, err := c.CreateRecords(context.Background(), "tbl_logs", []domain.RecordFields{
		{ActorReference: "agent-1", LogDate: day.UnixMilli()},
		{ActorReference: "agent-2", LogDate: day.UnixMilli()},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.Equal(t, "rec_001", created[0].RemoteID)
	assert.Equal(t, "agent-1", created[0].Fields.ActorReference)
	assert.Equal(t, day.UnixMilli(), created[0].Fields.LogDate)
	assert.Equal(t, "rec_002", created[1].RemoteID)
	assert.Equal(t, "agent-2", created[1].Fields.ActorReference)
}

func TestTenantToken_CachedAcrossCalls(t *testing.T) {
	fake := &fakeLark{}
	c := newTestClient(t, fake, newMapCache())
	ctx := context.Background()

	_, err := c.CreateRecords(ctx, "tbl_logs", []domain.RecordFields{{ActorReference: "agent-1"}})
	require.NoError(t, err)
	err = c.UpdateRecords(ctx, "tbl_logs", []domain.RemoteRecord{{RemoteID: "rec_001", Fields: domain.RecordFields{ActorReference: "agent-1", TotalRequests: 3}}})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.tokenCalls, "token must come from the cache after the first fetch")
	assert.Equal(t, 1, fake.createCalls)
	assert.Equal(t, 1, fake.updateCalls)
}

func TestNonZeroEnvelopeCodeIsAPIError(t *testing.T) {
	fake := &fakeLark{failCode: 1254043}
	c := newTestClient(t, fake, newMapCache())
	ctx := context.Background()

	_, err := c.CreateRecords(ctx, "tbl_logs", []domain.RecordFields{{ActorReference: "agent-1"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1254043, apiErr.Code)

	err = c.UpdateRecords(ctx, "tbl_logs", []domain.RemoteRecord{{RemoteID: "rec_001"}})
	require.True(t, errors.As(err, &apiErr))
}

func TestUpdateRecords_SendsBitableFieldNames(t *testing.T) {
	fake := &fakeLark{}
	c := newTestClient(t, fake, newMapCache())

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	err := c.UpdateRecords(context.Background(), "tbl_logs", []domain.RemoteRecord{{
		RemoteID: "rec_001",
		Fields: domain.RecordFields{
			ActorReference:       "agent-1",
			TotalRequests:        5,
			PositiveCount:        1,
			ForConfirmationCount: 1,
			UniqueScannedCount:   2,
			LogDate:              day.UnixMilli(),
		},
	}})
	require.NoError(t, err)

	records, ok := fake.lastUpdate["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)

	rec := records[0].(map[string]any)
	assert.Equal(t, "rec_001", rec["record_id"])

	fields := rec["fields"].(map[string]any)
	assert.Equal(t, float64(5), fields["Total Requests"])
	assert.Equal(t, float64(1), fields["Positive Count"])
	assert.Equal(t, float64(1), fields["For Confirmation Count"])
	assert.Equal(t, float64(2), fields["Unique Scanned Count"])
	assert.Equal(t, float64(day.UnixMilli()), fields["Log Date"])

	agents := fields["Field Agent"].([]any)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].(map[string]any)["id"])
}
