package abook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pairsync/pairsync/internal/retry"
)

// newTestClient points a client at a test server with a fast retry policy
// so failure paths don't sleep through real backoff delays.
func newTestClient(serverURL string, cfg Config) *Client {
	cfg.BaseURL = serverURL
	if cfg.Token == "" {
		cfg.Token = "test-token"
	}
	c := New(cfg, nil)
	c.retry = &retry.Policy{MaxRetries: 3, Delay: time.Millisecond}
	return c
}

func labelsHandler(labels ...Label) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]any{"labels": labels})
	}
}

func TestNew(t *testing.T) {
	c := New(Config{BaseURL: "https://abook.example.com/", Token: "tok"}, nil)

	if c.baseURL != "https://abook.example.com" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.pageSize != DefaultPageSize {
		t.Errorf("pageSize = %d, want %d", c.pageSize, DefaultPageSize)
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestRequestHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Errorf("Authorization = %q, want Bearer test-token", auth)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	if err := c.request(context.Background(), "GET", "/v1/labels", nil, nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
}

func TestListContactsPagination(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/labels" {
			labelsHandler()(w)
			return
		}
		if r.URL.Path != "/v1/contacts" {
			t.Errorf("Path = %q, want /v1/contacts", r.URL.Path)
		}
		if perPage := r.URL.Query().Get("per_page"); perPage != "2" {
			t.Errorf("per_page = %q, want 2", perPage)
		}
		pages++
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(contactPage{Contacts: []Contact{
				{ID: "c1", DisplayName: "Ada Lovelace", GivenName: "Ada"},
				{ID: "c2", DisplayName: "Alan Turing", GivenName: "Alan"},
			}})
		case "2":
			json.NewEncoder(w).Encode(contactPage{
				Contacts: []Contact{{ID: "c3", DisplayName: "Grace Hopper", GivenName: "Grace"}},
				Cursor:   "cursor-abc",
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{PageSize: 2})
	contacts, cursor, err := c.ListContacts(context.Background())
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}

	if len(contacts) != 3 {
		t.Errorf("got %d contacts, want 3", len(contacts))
	}
	if cursor != "cursor-abc" {
		t.Errorf("cursor = %q, want cursor-abc", cursor)
	}
	if pages != 2 {
		t.Errorf("made %d page requests, want 2", pages)
	}
}

func TestListContactsFiltersUnnamed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/labels" {
			labelsHandler()(w)
			return
		}
		json.NewEncoder(w).Encode(contactPage{Contacts: []Contact{
			{ID: "c1", GivenName: "Ada"},
			{ID: "c2"}, // no name at all
			{ID: "c3", Deleted: true},
		}})
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	contacts, _, err := c.ListContacts(context.Background())
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}

	if len(contacts) != 2 {
		t.Fatalf("got %d contacts, want 2 (unnamed dropped, tombstone kept)", len(contacts))
	}
	if contacts[0].ID != "c1" || contacts[1].ID != "c3" {
		t.Errorf("kept %q and %q, want c1 and c3", contacts[0].ID, contacts[1].ID)
	}
}

func TestListContactsLabelFilters(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"no filters", nil, nil, []string{"c1", "c2", "c3", "c4"}},
		{"include only", []string{"Friends"}, nil, []string{"c1", "c3", "c4"}},
		{"exclude only", nil, []string{"Work"}, []string{"c2", "c4"}},
		{"include and exclude", []string{"Friends"}, []string{"Work"}, []string{"c4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/v1/labels" {
					labelsHandler(
						Label{ID: "l-friends", Name: "Friends"},
						Label{ID: "l-work", Name: "Work"},
					)(w)
					return
				}
				json.NewEncoder(w).Encode(contactPage{Contacts: []Contact{
					{ID: "c1", GivenName: "A", LabelIDs: []string{"l-friends", "l-work"}},
					{ID: "c2", GivenName: "B"},
					{ID: "c3", GivenName: "C", LabelIDs: []string{"l-friends"}},
					{ID: "c4", Deleted: true}, // tombstones bypass filters
				}})
			}))
			defer server.Close()

			c := newTestClient(server.URL, Config{IncludeLabels: tt.include, ExcludeLabels: tt.exclude})
			contacts, _, err := c.ListContacts(context.Background())
			if err != nil {
				t.Fatalf("ListContacts failed: %v", err)
			}

			var got []string
			for _, contact := range contacts {
				got = append(got, contact.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("kept %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("kept %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestListChanges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/labels" {
			labelsHandler()(w)
			return
		}
		if r.URL.Path != "/v1/contacts:changes" {
			t.Errorf("Path = %q, want /v1/contacts:changes", r.URL.Path)
		}
		if cur := r.URL.Query().Get("cursor"); cur != "old-cursor" {
			t.Errorf("cursor = %q, want old-cursor", cur)
		}
		json.NewEncoder(w).Encode(contactPage{
			Contacts: []Contact{{ID: "c1", GivenName: "Ada"}, {ID: "c9", Deleted: true}},
			Cursor:   "new-cursor",
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	contacts, cursor, err := c.ListChanges(context.Background(), "old-cursor")
	if err != nil {
		t.Fatalf("ListChanges failed: %v", err)
	}

	if len(contacts) != 2 {
		t.Errorf("got %d changes, want 2", len(contacts))
	}
	if cursor != "new-cursor" {
		t.Errorf("cursor = %q, want new-cursor", cursor)
	}
}

func TestListChangesCursorExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/labels" {
			labelsHandler()(w)
			return
		}
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	_, _, err := c.ListChanges(context.Background(), "stale")
	if !errors.Is(err, ErrCursorExpired) {
		t.Errorf("err = %v, want ErrCursorExpired", err)
	}
}

func TestRequestRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	if err := c.request(context.Background(), "GET", "/v1/labels", nil, nil); err != nil {
		t.Fatalf("request failed after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRequestWaitsOutRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	if err := c.request(context.Background(), "GET", "/v1/labels", nil, nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRequestPermanentErrorNoRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such contact"}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	err := c.request(context.Background(), "GET", "/v1/contacts/missing", nil, nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (4xx is permanent)", attempts)
	}
}

func TestGetContactUsesCache(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/labels":
			labelsHandler()(w)
		case "/v1/contacts/c1":
			fetches++
			json.NewEncoder(w).Encode(Contact{ID: "c1", GivenName: "Ada"})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	ctx := context.Background()

	first, err := c.GetContact(ctx, "c1")
	if err != nil {
		t.Fatalf("GetContact failed: %v", err)
	}
	second, err := c.GetContact(ctx, "c1")
	if err != nil {
		t.Fatalf("second GetContact failed: %v", err)
	}

	if fetches != 1 {
		t.Errorf("fetched %d times, want 1 (second hit should come from cache)", fetches)
	}
	if first.ID != second.ID || second.GivenName != "Ada" {
		t.Errorf("cached contact mismatch: %+v vs %+v", first, second)
	}
}

func TestGetContactExcluded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/labels":
			labelsHandler(Label{ID: "l-work", Name: "Work"})(w)
		case "/v1/contacts/hidden":
			json.NewEncoder(w).Encode(Contact{ID: "hidden", GivenName: "X", LabelIDs: []string{"l-other"}})
		case "/v1/contacts/unnamed":
			json.NewEncoder(w).Encode(Contact{ID: "unnamed"})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{IncludeLabels: []string{"Work"}})
	ctx := context.Background()

	if _, err := c.GetContact(ctx, "hidden"); !errors.Is(err, ErrExcluded) {
		t.Errorf("filtered contact: err = %v, want ErrExcluded", err)
	}
	if _, err := c.GetContact(ctx, "unnamed"); !errors.Is(err, ErrExcluded) {
		t.Errorf("unnamed contact: err = %v, want ErrExcluded", err)
	}
}

func TestGetContactGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/labels" {
			labelsHandler()(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	contact, err := c.GetContact(context.Background(), "vanished")
	if err != nil {
		t.Fatalf("GetContact on missing id: err = %v, want nil", err)
	}
	if contact != nil {
		t.Errorf("contact = %+v, want nil for a gone contact", contact)
	}
}

func TestCreateContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/v1/contacts" {
			t.Errorf("Path = %q, want /v1/contacts", r.URL.Path)
		}
		var contact Contact
		json.NewDecoder(r.Body).Decode(&contact)
		contact.ID = "c-new"
		json.NewEncoder(w).Encode(contact)
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	created, err := c.CreateContact(context.Background(), Contact{GivenName: "Ada", FamilyName: "Lovelace"})
	if err != nil {
		t.Fatalf("CreateContact failed: %v", err)
	}

	if created.ID != "c-new" {
		t.Errorf("created ID = %q, want c-new", created.ID)
	}
	if got := c.Stats(); got.Created != 1 {
		t.Errorf("Stats().Created = %d, want 1", got.Created)
	}
	if cached, ok := c.byID["c-new"]; !ok || cached.GivenName != "Ada" {
		t.Error("created contact should land in the cache")
	}
}

func TestDeleteContact(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "DELETE" {
			t.Errorf("Method = %q, want DELETE", r.Method)
		}
		if r.URL.Path != "/v1/contacts/c1" {
			t.Errorf("Path = %q, want /v1/contacts/c1", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	c.byID["c1"] = &Contact{ID: "c1"}

	if err := c.DeleteContact(context.Background(), "c1", "Ada Lovelace"); err != nil {
		t.Fatalf("DeleteContact failed: %v", err)
	}
	if _, ok := c.byID["c1"]; ok {
		t.Error("deleted contact should leave the cache")
	}
}

func TestLabelID(t *testing.T) {
	created := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/labels" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method == "POST" {
			created++
			var label Label
			json.NewDecoder(r.Body).Decode(&label)
			label.ID = fmt.Sprintf("l-new-%d", created)
			json.NewEncoder(w).Encode(label)
			return
		}
		labelsHandler(Label{ID: "l-friends", Name: "Friends"})(w)
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	ctx := context.Background()

	id, err := c.LabelID(ctx, "Friends", false)
	if err != nil || id != "l-friends" {
		t.Errorf("LabelID(Friends) = %q, %v, want l-friends", id, err)
	}

	id, err = c.LabelID(ctx, "Imported", false)
	if err != nil || id != "" {
		t.Errorf("LabelID(Imported, no create) = %q, %v, want empty", id, err)
	}

	id, err = c.LabelID(ctx, "Imported", true)
	if err != nil || id != "l-new-1" {
		t.Errorf("LabelID(Imported, create) = %q, %v, want l-new-1", id, err)
	}
	if c.LabelName("l-new-1") != "Imported" {
		t.Errorf("LabelName(l-new-1) = %q, want Imported", c.LabelName("l-new-1"))
	}
	if c.LabelName("l-unknown") != "l-unknown" {
		t.Error("unknown label id should fall back to the raw id")
	}
}

func TestStatsCountsRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.request(ctx, "GET", "/v1/labels", nil, nil); err != nil {
			t.Fatalf("request failed: %v", err)
		}
	}

	if got := c.Stats(); got.Requests != 3 {
		t.Errorf("Stats().Requests = %d, want 3", got.Requests)
	}
}
