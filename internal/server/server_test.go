package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/archival/policy"
	archivalservice "github.com/smallbiznis/billarchive/internal/archival/service"
	"github.com/smallbiznis/billarchive/internal/clock"
	coldstoredomain "github.com/smallbiznis/billarchive/internal/coldstore/domain"
	coldmemory "github.com/smallbiznis/billarchive/internal/coldstore/memory"
	"github.com/smallbiznis/billarchive/internal/config"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	hotmemory "github.com/smallbiznis/billarchive/internal/hotstore/memory"
	"github.com/smallbiznis/billarchive/internal/observability"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleRecord = `{"id":"123","customer_id":"cust-1","created_at":"2025-01-01T00:00:00Z","amount":100}`

type testServer struct {
	engine *gin.Engine
	hot    *hotmemory.Store
	cold   *coldmemory.Store
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hot := hotmemory.New()
	cold := coldmemory.New("billing-archives")
	clk := clock.NewFakeClock(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	pol := policy.Static(policy.Default())
	svc := archivalservice.New(archivalservice.Params{
		Hot:    hot,
		Cold:   cold,
		Policy: pol,
		Clock:  clk,
		Config: config.Config{ColdStore: config.ColdStoreConfig{Prefix: coldstoredomain.DefaultPrefix}},
		Log:    zap.NewNop(),
	})

	engine := NewEngine(observability.Config{Environment: "test"}, zap.NewNop(), nil)
	NewServer(ServerParams{
		Gin:       engine,
		Cfg:       config.Config{Environment: "test"},
		Log:       zap.NewNop(),
		Clock:     clk,
		Policy:    pol,
		Migrator:  svc,
		Retriever: svc,
		Catalog:   svc,
	})
	return &testServer{engine: engine, hot: hot, cold: cold, clock: clk}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func errorType(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Type
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/records", sampleRecord)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/records/123", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hot", w.Header().Get(RecordTierHeader))
	assert.JSONEq(t, sampleRecord, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/records/123/archive?customer_id=cust-1", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_eligible", errorType(t, w))

	ts.clock.Advance(91 * 24 * time.Hour)
	w = ts.do(t, http.MethodPost, "/api/records/123/archive?customer_id=cust-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/records/123?customer_id=cust-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cold", w.Header().Get(RecordTierHeader))
	assert.JSONEq(t, sampleRecord, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/records/123/archive", "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_migrated", errorType(t, w))
}

func TestArchiveForceIgnoresRetention(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/records", sampleRecord).Code)

	w := ts.do(t, http.MethodPost, "/api/records/123/archive?force=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			RecordID string `json:"record_id"`
			Checksum string `json:"checksum"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "meta_123", resp.Data.ID)
	assert.Equal(t, "123", resp.Data.RecordID)
	assert.Len(t, resp.Data.Checksum, 64)

	w = ts.do(t, http.MethodPost, "/api/records/123/archive?force=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRecordErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/records/missing", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorType(t, w))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/records", sampleRecord).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/records/123/archive?force=true", "").Code)

	name := coldstoredomain.ObjectName(coldstoredomain.DefaultPrefix, "123")
	require.True(t, ts.cold.Tamper(name, func(b []byte) []byte {
		b[len(b)-2] ^= 0x01
		return b
	}))
	w = ts.do(t, http.MethodGet, "/api/records/123", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "data_corruption", errorType(t, w))

	ts.cold.Delete(name)
	w = ts.do(t, http.MethodGet, "/api/records/123", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "archive_inconsistent", errorType(t, w))
}

func TestPutRecordValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/records", `{"id":"1","created_at":"2025-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Error.Errors, 1)
	assert.Equal(t, "invalid_record", resp.Error.Errors[0].Code)

	w = ts.do(t, http.MethodPut, "/api/records", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessChangesAndListArchived(t *testing.T) {
	ts := newTestServer(t)
	ts.clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	for _, raw := range []string{
		`{"id":"a","customer_id":"cust-1","created_at":"2025-01-01T00:00:00Z"}`,
		`{"id":"b","customer_id":"cust-1","created_at":"2025-01-02T00:00:00Z"}`,
		`{"id":"c","customer_id":"cust-1","created_at":"2025-05-30T00:00:00Z"}`,
	} {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/records", raw).Code)
	}

	body := `{"records":[
		{"id":"a","customer_id":"cust-1","created_at":"2025-01-01T00:00:00Z"},
		{"id":"b","customer_id":"cust-1","created_at":"2025-01-02T00:00:00Z"},
		{"id":"c","customer_id":"cust-1","created_at":"2025-05-30T00:00:00Z"}
	]}`
	w := ts.do(t, http.MethodPost, "/api/archive/changes", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary struct {
		Data struct {
			Archived int `json:"archived"`
			Skipped  int `json:"skipped"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Data.Archived)
	assert.Equal(t, 1, summary.Data.Skipped)

	w = ts.do(t, http.MethodGet, "/api/archive/metadata?customer_id=cust-1&page_size=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Data struct {
			Items []struct {
				RecordID string `json:"record_id"`
			} `json:"items"`
			PageInfo struct {
				NextPageToken string `json:"next_page_token"`
				HasMore       bool   `json:"has_more"`
			} `json:"page_info"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data.Items, 1)
	assert.Equal(t, "a", page.Data.Items[0].RecordID)
	require.True(t, page.Data.PageInfo.HasMore)

	w = ts.do(t, http.MethodGet, "/api/archive/metadata?customer_id=cust-1&page_size=1&page_token="+page.Data.PageInfo.NextPageToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data.Items, 1)
	assert.Equal(t, "b", page.Data.Items[0].RecordID)
	assert.False(t, page.Data.PageInfo.HasMore)

	w = ts.do(t, http.MethodGet, "/api/archive/metadata", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/archive/changes", `{"records":[{"id":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorType(t, w))
}

func TestPutRecordIDConflicts(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/api/records", sampleRecord).Code)

	w := ts.do(t, http.MethodPut, "/api/records", `{"id":"123","customer_id":"cust-2","created_at":"2025-01-01T00:00:00Z","amount":999}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "id_conflict", errorType(t, w))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/records/123/archive?force=true", "").Code)

	w = ts.do(t, http.MethodPut, "/api/records", sampleRecord)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_migrated", errorType(t, w))

	w = ts.do(t, http.MethodGet, "/api/records/123", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cold", w.Header().Get(RecordTierHeader))
	assert.JSONEq(t, sampleRecord, w.Body.String())
}

func TestUnreadableStoredRecordIsServerError(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.hot.Upsert(context.Background(), hotstoredomain.Document{
		ID:           "bad",
		PartitionKey: "cust-1",
		Type:         recorddomain.TypeRecord,
		RecordID:     "bad",
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Body:         json.RawMessage(`{"id":"bad"}`),
	}))

	w := ts.do(t, http.MethodGet, "/api/records/bad", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", errorType(t, w))
}

func TestMapErrorDataFaultsBeforeValidation(t *testing.T) {
	status, payload := mapError(fmt.Errorf("%w: cust-1/bad: %v", archivaldomain.ErrStoredDocument, recorddomain.ErrInvalidRecord))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	status, payload = mapError(fmt.Errorf("%w: record 1: %w", archivaldomain.ErrCorrupted, recorddomain.ErrInvalidRecord))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "data_corruption", payload.Type)

	status, payload = mapError(archivaldomain.ErrIDConflict)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "id_conflict", payload.Type)
}

func TestMapErrorDefaultsToInternal(t *testing.T) {
	status, payload := mapError(context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	typ, code := classifyErrorForLog(ErrRateLimited)
	assert.Equal(t, "rate_limited", typ)
	assert.Equal(t, "429", code)
}
