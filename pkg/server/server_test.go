package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/oarkflow/json"

	"github.com/oarkflow/hl7ql"
	"github.com/oarkflow/hl7ql/pkg/storage"
)

const sampleFeed = "MSH|^~\\&|A\rPID|||ID1^^^SYS||DOE^JOHN\r" +
	"MSH|^~\\&|A\rPID|||ID2^^^SYS||SMITH^JANE"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.New(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	snapshot := func(context.Context) (string, error) { return sampleFeed, nil }
	srv, err := New(Config{Version: "test"}, hl7ql.New(), store, snapshot)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	resp.Body.Close()
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestRunQueryAgainstFeed(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv, http.MethodPost, "/api/query", QueryRequest{Address: "PID.5.1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var qr QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qr.RunID == "" {
		t.Fatal("missing run id")
	}
	if qr.Result.Stats.TotalMessages != 2 || len(qr.Result.Stats.DistinctValues) != 2 {
		t.Fatalf("stats = %+v", qr.Result.Stats)
	}
}

func TestRunQueryErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/query", QueryRequest{Address: "PID.x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed address status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/query", QueryRequest{Address: "OBX.5"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("absent segment status = %d", resp.StatusCode)
	}
}

func TestValidateFilter(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv, http.MethodPost, "/api/filters/validate", hl7ql.FilterSet{
		Mode:    hl7ql.ModeCustom,
		Logic:   "F1 AND F9",
		Entries: []hl7ql.FilterEntry{{Label: "F1", Expression: "PID.5.1 exists"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var vr ValidationResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vr.Valid || vr.Kind != string(hl7ql.InvalidCustomLogic) {
		t.Fatalf("validation = %+v", vr)
	}
}

func TestParseMessages(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, srv, http.MethodPost, "/api/messages/parse", ParseRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var pr ParseResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pr.TotalMessages != 2 || pr.SegmentInventory["PID"] != 2 {
		t.Fatalf("parse response = %+v", pr)
	}
}

func TestSavedQueryLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/queries", SaveQueryRequest{
		Name:    "doe lookup",
		Address: "PID.5.1",
		Filter: &hl7ql.FilterSet{
			Mode:    hl7ql.ModeSingle,
			Entries: []hl7ql.FilterEntry{{Label: "F1", Expression: "PID.5.1 = DOE"}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	var rec storage.SavedQueryRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, body = doJSON(t, srv, http.MethodPost, "/api/queries/"+rec.ID+"/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d, body %s", resp.StatusCode, body)
	}
	var qr QueryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qr.Result.Stats.FilteredMessages == nil || *qr.Result.Stats.FilteredMessages != 1 {
		t.Fatalf("stats = %+v", qr.Result.Stats)
	}

	resp, body = doJSON(t, srv, http.MethodGet, "/api/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("runs status = %d", resp.StatusCode)
	}
	var runs []storage.RunRecord
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || !runs[0].Success {
		t.Fatalf("runs = %+v", runs)
	}

	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/queries/"+rec.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/queries/"+rec.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestSaveQueryRejectsInvalidFilter(t *testing.T) {
	srv := newTestServer(t)
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/queries", SaveQueryRequest{
		Name: "broken",
		Filter: &hl7ql.FilterSet{
			Mode:    hl7ql.ModeSingle,
			Entries: []hl7ql.FilterEntry{{Label: "F1", Expression: "not an expression"}},
		},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
