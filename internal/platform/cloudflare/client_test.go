package cloudflare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGetZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// app.staging.example.com must be looked up by its registrable root.
		if got := r.URL.Query().Get("name"); got != "example.com" {
			t.Errorf("unexpected zone query: %s", got)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(apiResponse{
			Success: true,
			Result:  json.RawMessage(`[{"id":"zone-123","name":"example.com"}]`),
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	zone, err := c.GetZone(context.Background(), "app.staging.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zone == nil || zone.ID != "zone-123" {
		t.Errorf("expected zone-123, got %+v", zone)
	}
}

func TestGetZone_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{
			Success: true,
			Result:  json.RawMessage(`[]`),
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	zone, err := c.GetZone(context.Background(), "app.unmanaged.net")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zone != nil {
		t.Errorf("expected nil zone for unmanaged domain, got %+v", zone)
	}
}

func TestEnsureDNS_CreateThenExists(t *testing.T) {
	fake := newFakeAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv)

	first, err := c.EnsureDNS(context.Background(), "app.example.com", "203.0.113.7", "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Action != ActionCreated {
		t.Errorf("expected created, got %s", first.Action)
	}
	if first.RecordID == "" || first.ZoneID != "zone-123" {
		t.Errorf("missing ids in result: %+v", first)
	}

	second, err := c.EnsureDNS(context.Background(), "app.example.com", "203.0.113.7", "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Action != ActionExists {
		t.Errorf("expected exists on repeat, got %s", second.Action)
	}
	if second.RecordID != first.RecordID {
		t.Errorf("record id changed across idempotent ensure: %s vs %s", first.RecordID, second.RecordID)
	}
	if fake.creates != 1 {
		t.Errorf("expected exactly one create, got %d", fake.creates)
	}
}

func TestEnsureDNS_UpdateOnChangedTarget(t *testing.T) {
	fake := newFakeAPI()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(srv)

	first, err := c.EnsureDNS(context.Background(), "app.example.com", "198.51.100.1", "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := c.EnsureDNS(context.Background(), "app.example.com", "198.51.100.2", "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Action != ActionUpdated {
		t.Errorf("expected updated on changed target, got %s", second.Action)
	}
	if second.RecordID != first.RecordID {
		t.Errorf("update must keep the record id, got %s vs %s", first.RecordID, second.RecordID)
	}
	if got := fake.records[first.RecordID].Content; got != "198.51.100.2" {
		t.Errorf("record content not converged: %s", got)
	}
	if !fake.lastPatchProxied {
		t.Error("update must keep the record proxied")
	}
}

func TestEnsureDNS_NoZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{Success: true, Result: json.RawMessage(`[]`)})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.EnsureDNS(context.Background(), "app.unmanaged.net", "203.0.113.7", "A")
	if err == nil {
		t.Fatal("expected error when no zone covers the hostname")
	}
}

func TestVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(apiResponse{
			Success: true,
			Result:  json.RawMessage(`[{"id":"zone-123","name":"example.com"}]`),
		})
	}))
	defer srv.Close()

	if err := newTestClient(srv).Verify(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVerify_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(apiResponse{
			Success: false,
			Errors:  []apiError{{Code: 9109, Message: "Invalid access token"}},
		})
	}))
	defer srv.Close()

	err := newTestClient(srv).Verify(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected token")
	}
	if !strings.Contains(err.Error(), "Invalid access token") {
		t.Errorf("error should carry API message, got: %v", err)
	}
}

func TestListRecords_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		records := []Record{{ID: "r1", Type: "A", Name: "a.example.com"}}
		pageNum := 1
		if page == "2" {
			records = []Record{{ID: "r2", Type: "A", Name: "b.example.com"}}
			pageNum = 2
		}
		json.NewEncoder(w).Encode(listResponse{
			Success:    true,
			Result:     records,
			ResultInfo: resultInfo{Page: pageNum, TotalPages: 2},
		})
	}))
	defer srv.Close()

	records, err := newTestClient(srv).ListRecords(context.Background(), "zone-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records across pages, got %d", len(records))
	}
}

func TestDeleteRecord(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method: %s", r.Method)
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		deleted = parts[len(parts)-1]
		json.NewEncoder(w).Encode(apiResponse{Success: true, Result: json.RawMessage(`{}`)})
	}))
	defer srv.Close()

	if err := newTestClient(srv).DeleteRecord(context.Background(), "zone-123", "rec-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != "rec-9" {
		t.Errorf("expected rec-9 deleted, got %s", deleted)
	}
}

func TestRegistrableRoot(t *testing.T) {
	tests := map[string]string{
		"app.example.com":         "example.com",
		"a.b.c.example.com":       "example.com",
		"example.com":             "example.com",
		"localhost":               "localhost",
		"api.staging.example.org": "example.org",
	}
	for hostname, want := range tests {
		if got := registrableRoot(hostname); got != want {
			t.Errorf("registrableRoot(%s) = %s, want %s", hostname, got, want)
		}
	}
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient("test-token", "acct-1")
	c.httpClient = &http.Client{
		Transport: &rewriteTransport{base: srv.URL, wrapped: http.DefaultTransport},
	}
	return c
}

// fakeAPI is a stateful in-memory Cloudflare endpoint covering zones and
// records for one zone.
type fakeAPI struct {
	records          map[string]*Record
	nextID           int
	creates          int
	lastPatchProxied bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string]*Record)}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/zones" && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(apiResponse{
			Success: true,
			Result:  json.RawMessage(`[{"id":"zone-123","name":"example.com"}]`),
		})

	case r.URL.Path == "/zones/zone-123/dns_records" && r.Method == http.MethodGet:
		name := r.URL.Query().Get("name")
		rtype := r.URL.Query().Get("type")
		matches := []Record{}
		for _, rec := range f.records {
			if rec.Name == name && rec.Type == rtype {
				matches = append(matches, *rec)
			}
		}
		out, _ := json.Marshal(matches)
		json.NewEncoder(w).Encode(apiResponse{Success: true, Result: out})

	case r.URL.Path == "/zones/zone-123/dns_records" && r.Method == http.MethodPost:
		var body struct {
			Type    string `json:"type"`
			Name    string `json:"name"`
			Content string `json:"content"`
			Proxied bool   `json:"proxied"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Proxied {
			http.Error(w, "expected proxied create", http.StatusBadRequest)
			return
		}
		f.nextID++
		f.creates++
		rec := &Record{ID: fmt.Sprintf("rec-%d", f.nextID), Type: body.Type, Name: body.Name, Content: body.Content}
		f.records[rec.ID] = rec
		out, _ := json.Marshal(rec)
		json.NewEncoder(w).Encode(apiResponse{Success: true, Result: out})

	case strings.HasPrefix(r.URL.Path, "/zones/zone-123/dns_records/") && r.Method == http.MethodPatch:
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		rec, ok := f.records[parts[len(parts)-1]]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var body struct {
			Content string `json:"content"`
			Proxied bool   `json:"proxied"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		rec.Content = body.Content
		f.lastPatchProxied = body.Proxied
		out, _ := json.Marshal(rec)
		json.NewEncoder(w).Encode(apiResponse{Success: true, Result: out})

	default:
		http.Error(w, "unexpected request: "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	}
}

// rewriteTransport rewrites request URLs to point at the test server.
type rewriteTransport struct {
	base    string
	wrapped http.RoundTripper
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = t.base[len("http://"):]
	req.URL.Path = strings.TrimPrefix(req.URL.Path, "/client/v4")
	return t.wrapped.RoundTrip(req)
}
