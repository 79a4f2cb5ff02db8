package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"macrocoach/internal/db"
	"macrocoach/internal/matches"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	primary  = db.RoutingDecision{Role: db.Write, Endpoint: "primary", Host: "postgres-primary"}
	replica2 = db.RoutingDecision{Role: db.Read, Endpoint: "replica2", Host: "postgres-replica-2"}
)

type fakeStore struct {
	inserted []matches.NewMatch
	records  []matches.Record
	err      error
}

func (f *fakeStore) Insert(_ context.Context, m matches.NewMatch) (matches.Record, db.RoutingDecision, error) {
	if f.err != nil {
		return matches.Record{}, primary, f.err
	}
	f.inserted = append(f.inserted, m)
	rec := matches.Record{
		ID:           int64(len(f.inserted)),
		SummonerName: m.SummonerName,
		Champion:     m.Champion,
		KDA:          m.KDA,
		Win:          m.Win,
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.records = append([]matches.Record{rec}, f.records...)
	return rec, primary, nil
}

func (f *fakeStore) Recent(_ context.Context, limit int) ([]matches.Record, db.RoutingDecision, error) {
	if f.err != nil {
		return nil, replica2, f.err
	}
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return append([]matches.Record{}, f.records[:limit]...), replica2, nil
}

func (f *fakeStore) Latest(ctx context.Context) (matches.Record, db.RoutingDecision, error) {
	recs, d, err := f.Recent(ctx, 1)
	if err != nil {
		return matches.Record{}, d, err
	}
	if len(recs) == 0 {
		return matches.Record{}, d, matches.ErrNotFound
	}
	return recs[0], d, nil
}

type fakeHealth map[string]db.EndpointHealth

func (f fakeHealth) Report(context.Context) map[string]db.EndpointHealth { return f }

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestCreateMatch(t *testing.T) {
	store := &fakeStore{}
	h := New(nil, store, nil).Routes()

	rr := do(t, h, http.MethodPost, "/api/match", map[string]any{
		"summoner_name": "Faker", "champion": "Ahri", "kda": "10/0/5", "win": true,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	rec := decode[matches.Record](t, rr)
	assert.Equal(t, "Faker", rec.SummonerName)
	assert.Equal(t, "10/0/5", rec.KDA)
	assert.True(t, rec.Win)

	rr = do(t, h, http.MethodPost, "/api/match", map[string]any{"summoner_name": "Caps", "champion": "Sylas"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, matches.NewMatch{SummonerName: "Caps", Champion: "Sylas", KDA: "0/0/0", Win: false}, store.inserted[1])
}

func TestCreateMatch_ValidationFailure(t *testing.T) {
	store := &fakeStore{}
	h := New(nil, store, nil).Routes()

	rr := do(t, h, http.MethodPost, "/api/match", map[string]any{"summoner_name": "Faker", "kda": "10-0-5"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	body := decode[struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}](t, rr)
	assert.Equal(t, "Validation failed", body.Error)
	assert.Equal(t, []string{"Invalid champion", "Invalid KDA format (e.g. 10/2/5)"}, body.Details)
	assert.Empty(t, store.inserted, "invalid records never reach the store")

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/match", bytes.NewBufferString("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestErrorMapping(t *testing.T) {
	connErr := &db.ConnectionError{Decision: replica2, Err: errors.New("dial tcp: connection refused")}
	queryErr := &db.QueryError{Decision: primary, Err: &pgconn.PgError{Code: "42P01", Message: `relation "matches" does not exist`}}

	cases := []struct {
		name   string
		err    error
		method string
		path   string
		body   any
		code   int
	}{
		{"history replica down", connErr, http.MethodGet, "/api/history", nil, http.StatusServiceUnavailable},
		{"read-test replica down", connErr, http.MethodGet, "/db/read-test", nil, http.StatusServiceUnavailable},
		{"insert missing table", queryErr, http.MethodPost, "/api/match", map[string]any{"summoner_name": "a", "champion": "b"}, http.StatusInternalServerError},
		{"write-test missing table", queryErr, http.MethodPost, "/db/write-test", nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(nil, &fakeStore{err: tc.err}, nil).Routes()
			rr := do(t, h, tc.method, tc.path, tc.body)
			require.Equal(t, tc.code, rr.Code)

			body := decode[map[string]any](t, rr)
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, tc.err.Error(), body["details"])
		})
	}
}

func TestHistory(t *testing.T) {
	store := &fakeStore{}
	h := New(nil, store, nil).Routes()
	for i := 0; i < 12; i++ {
		_, _, err := store.Insert(context.Background(), matches.NewMatch{SummonerName: "s", Champion: "c", KDA: "0/0/0"})
		require.NoError(t, err)
	}

	rr := do(t, h, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[historyResponse](t, rr)
	assert.Equal(t, "postgres-replica-2", body.Source)
	assert.Len(t, body.Data, matches.HistoryLimit)
	assert.Equal(t, int64(12), body.Data[0].ID)
}

func TestWriteAndReadTest(t *testing.T) {
	store := &fakeStore{}
	handler := New(nil, store, nil)
	handler.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	h := handler.Routes()

	rr := do(t, h, http.MethodGet, "/db/read-test", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/db/write-test", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	wt := decode[writeTestResponse](t, rr)
	assert.Equal(t, writeTestResponse{
		HostUsed:   "postgres-primary",
		Role:       db.Write,
		InsertedID: 1,
		Timestamp:  "2026-10-19T12:00:00Z",
	}, wt)

	rr = do(t, h, http.MethodGet, "/db/read-test", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rt := decode[readTestResponse](t, rr)
	assert.Equal(t, "postgres-replica-2", rt.HostUsed)
	assert.Equal(t, db.Read, rt.Role)
	assert.Equal(t, "Test Summoner", rt.Data.SummonerName)
	assert.Equal(t, "Test Champion", rt.Data.Champion)
}

func TestStatus(t *testing.T) {
	up := fakeHealth{
		"primary":  {Role: db.RolePrimary, Host: "postgres-primary", Up: true},
		"replica1": {Role: db.RoleReplica, Host: "postgres-replica-1", Up: true},
		"replica2": {Role: db.RoleReplica, Host: "postgres-replica-2", Up: true},
	}
	rr := do(t, New(nil, nil, up).Routes(), http.MethodGet, "/db/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[statusResponse](t, rr)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, map[string]bool{"primary": true, "replica1": true, "replica2": true}, body.Connections)
	assert.Equal(t, "API is connected to all 3 databases (Primary + 2 Replicas).", body.Message)

	partial := fakeHealth{
		"primary":  {Role: db.RolePrimary, Host: "postgres-primary", Up: true},
		"replica1": {Role: db.RoleReplica, Host: "postgres-replica-1", Up: false, Error: "connection refused"},
		"replica2": {Role: db.RoleReplica, Host: "postgres-replica-2", Up: true},
	}
	rr = do(t, New(nil, nil, partial).Routes(), http.MethodGet, "/db/status", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body = decode[statusResponse](t, rr)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]bool{"primary": true, "replica1": false, "replica2": true}, body.Connections)
	assert.Equal(t, "connection refused", body.Endpoints["replica1"].Error)
}
