package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, BaseID: "appTEST", Token: "pat-test"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{BaseID: "appTEST"}, nil)
	require.Error(t, err, "missing token is a configuration error")

	_, err = NewClient(Config{Token: "pat"}, nil)
	require.Error(t, err, "missing base id is a configuration error")
}

func TestListAllFollowsOffsetCursor(t *testing.T) {
	var requests []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		require.Equal(t, "Bearer pat-test", r.Header.Get("Authorization"))
		require.Equal(t, "/appTEST/Inventory", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("pageSize"))

		switch r.URL.Query().Get("offset") {
		case "":
			json.NewEncoder(w).Encode(recordsResponse{
				Records: []Record{{ID: "rec1"}, {ID: "rec2"}},
				Offset:  "cursor1",
			})
		case "cursor1":
			json.NewEncoder(w).Encode(recordsResponse{
				Records: []Record{{ID: "rec3"}},
			})
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	})

	records, err := c.ListAll(context.Background(), "Inventory", ListOptions{View: "Grid"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "rec3", records[2].ID)
	require.Len(t, requests, 2)
}

func TestListAllPassesFilterOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "Grid", q.Get("view"))
		require.Equal(t, "{Type}='item'", q.Get("filterByFormula"))
		require.Equal(t, []string{"Name", "Type"}, q["fields[]"])
		json.NewEncoder(w).Encode(recordsResponse{})
	})

	_, err := c.ListAll(context.Background(), "Inventory", ListOptions{
		View:            "Grid",
		FilterByFormula: "{Type}='item'",
		Fields:          []string{"Name", "Type"},
	})
	require.NoError(t, err)
}

func TestCreateManyChunksAtBatchLimit(t *testing.T) {
	var batchSizes []int
	seq := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Records  []Record `json:"records"`
			Typecast bool     `json:"typecast"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body.Typecast)
		batchSizes = append(batchSizes, len(body.Records))

		resp := recordsResponse{}
		for _, rec := range body.Records {
			seq++
			resp.Records = append(resp.Records, Record{ID: fmt.Sprintf("rec%d", seq), Fields: rec.Fields})
		}
		json.NewEncoder(w).Encode(resp)
	})

	fields := make([]map[string]any, 12)
	for i := range fields {
		fields[i] = map[string]any{"Name": fmt.Sprintf("item %d", i)}
	}
	created, err := c.CreateMany(context.Background(), "Inventory", fields, true)
	require.NoError(t, err)
	require.Len(t, created, 12)
	require.Equal(t, []int{10, 2}, batchSizes, "12 records must issue exactly two requests sized 10 and 2")
	require.Equal(t, "rec1", created[0].ID)
	require.Equal(t, "rec12", created[11].ID)
}

func TestUpdateManyChunksAndCarriesIds(t *testing.T) {
	var batchSizes []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		var body struct {
			Records []Record `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		batchSizes = append(batchSizes, len(body.Records))
		require.NotEmpty(t, body.Records[0].ID)
		json.NewEncoder(w).Encode(recordsResponse{Records: body.Records})
	})

	records := make([]Record, 11)
	for i := range records {
		records[i] = Record{ID: fmt.Sprintf("rec%d", i), Fields: map[string]any{"Name": "x"}}
	}
	updated, err := c.UpdateMany(context.Background(), "Inventory", records, false)
	require.NoError(t, err)
	require.Len(t, updated, 11)
	require.Equal(t, []int{10, 1}, batchSizes)
}

func TestDeleteManyChunksQueryParams(t *testing.T) {
	var batches [][]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		ids := r.URL.Query()["records[]"]
		batches = append(batches, ids)

		resp := deleteResponse{}
		for _, id := range ids {
			resp.Records = append(resp.Records, DeletedRecord{ID: id, Deleted: true})
		}
		json.NewEncoder(w).Encode(resp)
	})

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("rec%d", i)
	}
	deleted, err := c.DeleteMany(context.Background(), "Inventory", ids)
	require.NoError(t, err)
	require.Len(t, deleted, 12)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 10)
	require.Len(t, batches[1], 2)
}

func TestNonSuccessResponseIsStructuredError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":{"type":"INVALID_VALUE_FOR_COLUMN"}}`)
	})

	_, err := c.CreateMany(context.Background(), "Inventory", []map[string]any{{"Name": "x"}}, false)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Contains(t, apiErr.Body, "INVALID_VALUE_FOR_COLUMN")
	require.False(t, IsNotFound(err))
}

func TestPartialChunkFailureKeepsEarlierResults(t *testing.T) {
	call := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 2 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"error":"bad chunk"}`)
			return
		}
		var body struct {
			Records []Record `json:"records"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		resp := recordsResponse{}
		for i := range body.Records {
			resp.Records = append(resp.Records, Record{ID: fmt.Sprintf("rec%d", i)})
		}
		json.NewEncoder(w).Encode(resp)
	})

	fields := make([]map[string]any, 12)
	for i := range fields {
		fields[i] = map[string]any{"Name": "x"}
	}
	created, err := c.CreateMany(context.Background(), "Inventory", fields, false)
	require.Error(t, err)
	require.Len(t, created, 10, "records from chunks before the failure are returned")
}

func TestIsNotFound(t *testing.T) {
	require.True(t, IsNotFound(&APIError{StatusCode: http.StatusNotFound, Body: ""}))
	require.True(t, IsNotFound(&APIError{StatusCode: 422, Body: `{"error":{"type":"NOT_FOUND"}}`}))
	require.True(t, IsNotFound(fmt.Errorf("wrapped: %w", &APIError{StatusCode: 404})))
	require.False(t, IsNotFound(&APIError{StatusCode: 500, Body: "boom"}))
	require.False(t, IsNotFound(fmt.Errorf("plain error")))
	require.False(t, IsNotFound(nil))
}
