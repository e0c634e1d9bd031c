package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/airtable"
	"github.com/TarekAyadiDev/app-furniture-tracker-sub001/internal/store"
)

const testNow = int64(1700000000000)

// fakeRemote is an in-memory stand-in for the remote tabular API. Failure
// injection mirrors the provider's behavior: any bad record fails the
// whole request.
type fakeRemote struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	seq     int
	rows    map[string]map[string]any
	orderID []string

	methods        []string // request methods in arrival order
	createSizes    []int
	updateSizes    []int
	deleteBatches  [][]string
	failCreateName map[string]bool // reject create requests containing this Name
	failUpdateID   map[string]bool // 500 on update requests containing this id
}

func newFakeRemote(t *testing.T) *fakeRemote {
	f := &fakeRemote{
		t:              t,
		rows:           make(map[string]map[string]any),
		failCreateName: make(map[string]bool),
		failUpdateID:   make(map[string]bool),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods = append(f.methods, r.Method)

	switch r.Method {
	case http.MethodGet:
		f.handleList(w)
	case http.MethodPost:
		f.handleCreate(w, r)
	case http.MethodPatch:
		f.handleUpdate(w, r)
	case http.MethodDelete:
		f.handleDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type wireRecord struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

func (f *fakeRemote) handleList(w http.ResponseWriter) {
	var records []wireRecord
	for _, id := range f.orderID {
		if fields, ok := f.rows[id]; ok {
			records = append(records, wireRecord{ID: id, Fields: fields})
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"records": records})
}

func (f *fakeRemote) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []wireRecord `json:"records"`
	}
	data, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(data, &body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.createSizes = append(f.createSizes, len(body.Records))

	for _, rec := range body.Records {
		if name, _ := rec.Fields["Name"].(string); f.failCreateName[name] {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprintf(w, `{"error":{"type":"INVALID_VALUE_FOR_COLUMN","message":"invalid record %q"}}`, name)
			return
		}
	}

	var out []wireRecord
	for _, rec := range body.Records {
		f.seq++
		id := fmt.Sprintf("rec%03d", f.seq)
		f.rows[id] = rec.Fields
		f.orderID = append(f.orderID, id)
		out = append(out, wireRecord{ID: id, Fields: rec.Fields})
	}
	json.NewEncoder(w).Encode(map[string]any{"records": out})
}

func (f *fakeRemote) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []wireRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.updateSizes = append(f.updateSizes, len(body.Records))

	for _, rec := range body.Records {
		if _, ok := f.rows[rec.ID]; !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"type":"NOT_FOUND","message":"Record not found: %s"}}`, rec.ID)
			return
		}
		if f.failUpdateID[rec.ID] {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, `{"error":"server exploded on %s"}`, rec.ID)
			return
		}
	}
	var out []wireRecord
	for _, rec := range body.Records {
		for k, v := range rec.Fields {
			f.rows[rec.ID][k] = v
		}
		out = append(out, wireRecord{ID: rec.ID, Fields: f.rows[rec.ID]})
	}
	json.NewEncoder(w).Encode(map[string]any{"records": out})
}

func (f *fakeRemote) handleDelete(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["records[]"]
	f.deleteBatches = append(f.deleteBatches, ids)

	for _, id := range ids {
		if _, ok := f.rows[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":{"type":"NOT_FOUND","message":"Record not found: %s"}}`, id)
			return
		}
	}
	var out []map[string]any
	for _, id := range ids {
		delete(f.rows, id)
		out = append(out, map[string]any{"id": id, "deleted": true})
	}
	json.NewEncoder(w).Encode(map[string]any{"records": out})
}

// seed inserts a remote row directly, bypassing the API.
func (f *fakeRemote) seed(id string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = fields
	f.orderID = append(f.orderID, id)
}

func (f *fakeRemote) row(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

func (f *fakeRemote) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func newTestEngine(t *testing.T, remote *fakeRemote) *Engine {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var client *airtable.Client
	if remote != nil {
		client, err = airtable.NewClient(airtable.Config{
			BaseURL: remote.srv.URL,
			BaseID:  "appTEST",
			Token:   "pat-test",
		}, nil)
		require.NoError(t, err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := New(st, client, DefaultConfig("Inventory"), logger)
	require.NoError(t, err)
	eng.now = func() int64 { return testNow }
	return eng
}
