// Package abook is the HTTP client for the address book service, the
// authoritative side of a sync. It speaks the v1 REST API: paged contact
// listings, a cursor-based change feed, and a label catalog.
package abook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pairsync/pairsync/internal/retry"
)

const (
	// DefaultTimeout is the HTTP client timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the contacts-per-page for list requests.
	DefaultPageSize = 100

	// defaultRateLimitWait applies when a 429 carries no Retry-After.
	defaultRateLimitWait = 60 * time.Second
)

var (
	// ErrCursorExpired reports that the change feed no longer honors the
	// stored cursor; the caller should fall back to a full listing.
	ErrCursorExpired = errors.New("change cursor expired")

	// ErrExcluded reports that a contact exists but is hidden by the label
	// filters or carries no name to sync by.
	ErrExcluded = errors.New("contact not syncable")

	// ErrNotFound reports a 404 from the API.
	ErrNotFound = errors.New("not found")
)

// Config carries the connection settings for an address book client.
// Label filters are given by name and resolved against the label catalog
// on first use.
type Config struct {
	BaseURL       string
	Token         string
	IncludeLabels []string
	ExcludeLabels []string
	Timeout       time.Duration
	PageSize      int
}

// Client is an address book API client. It is not safe for concurrent use;
// the sync engine is strictly sequential and each run owns its client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
	retry      *retry.Policy
	pageSize   int

	includeNames []string
	excludeNames []string
	include      map[string]bool // label ids, resolved lazily
	exclude      map[string]bool

	labels     map[string]string // name -> id
	labelNames map[string]string // id -> name

	byID map[string]*Contact // run cache for GetContact

	requests int64
	created  int
}

// New returns a client for the address book API. A nil log discards.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
		retry:        retry.NewPolicy(log),
		pageSize:     pageSize,
		includeNames: cfg.IncludeLabels,
		excludeNames: cfg.ExcludeLabels,
		byID:         make(map[string]*Contact),
	}
}

// Stats reports what this client did so far.
func (c *Client) Stats() Stats {
	return Stats{Requests: c.requests, Created: c.created}
}

// ListContacts fetches every syncable contact plus a fresh change cursor.
// Label and unnamed filters are applied before returning; results are
// cached so GetContact stays cheap for the rest of the run.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, string, error) {
	if err := c.ensureLabels(ctx); err != nil {
		return nil, "", err
	}
	c.log.Info("fetching address book contacts")
	contacts, cursor, err := c.listPages(ctx, "/v1/contacts")
	if err != nil {
		return nil, "", fmt.Errorf("fetch contacts: %w", err)
	}
	contacts = c.filterByLabels(contacts)
	contacts = c.filterUnnamed(contacts)
	c.cacheContacts(contacts)
	c.log.Info("fetched address book contacts", "count", len(contacts))
	return contacts, cursor, nil
}

// ListChanges fetches contacts changed since cursor, tombstones included.
// A stale cursor surfaces as ErrCursorExpired so the caller can degrade to
// a full listing.
func (c *Client) ListChanges(ctx context.Context, cursor string) ([]Contact, string, error) {
	if err := c.ensureLabels(ctx); err != nil {
		return nil, "", err
	}
	c.log.Info("fetching address book changes")
	contacts, next, err := c.listPages(ctx, "/v1/contacts:changes?cursor="+url.QueryEscape(cursor))
	if err != nil {
		return nil, "", fmt.Errorf("fetch changes: %w", err)
	}
	contacts = c.filterByLabels(contacts)
	contacts = c.filterUnnamed(contacts)
	c.cacheContacts(contacts)
	c.log.Info("fetched address book changes", "count", len(contacts))
	return contacts, next, nil
}

// GetContact returns one contact by id, from the run cache when possible.
// A contact the server no longer has comes back as (nil, nil); contacts
// hidden by the label filters (or carrying no name) come back as
// ErrExcluded.
func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	if cached, ok := c.byID[id]; ok {
		return cached, nil
	}
	if err := c.ensureLabels(ctx); err != nil {
		return nil, err
	}
	var contact Contact
	if err := c.request(ctx, http.MethodGet, "/v1/contacts/"+url.PathEscape(id), nil, &contact); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch contact %q: %w", id, err)
	}
	if !contact.Deleted && !c.labelAllowed(&contact) {
		return nil, fmt.Errorf("contact %q hidden by label filter: %w", id, ErrExcluded)
	}
	if !contact.Deleted && !contact.HasName() {
		return nil, fmt.Errorf("contact %q has no name: %w", id, ErrExcluded)
	}
	c.cacheContact(&contact)
	return &contact, nil
}

// CreateContact uploads a contact assembled during sync-back and returns
// the stored version with its server-assigned id.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (*Contact, error) {
	var created Contact
	if err := c.request(ctx, http.MethodPost, "/v1/contacts", contact, &created); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	c.created++
	c.cacheContact(&created)
	c.log.Info("address book contact created", "id", created.ID, "name", created.DisplayName)
	return &created, nil
}

// UpdateContact replaces a contact's stored fields and returns the
// stored version with a fresh revision stamp.
func (c *Client) UpdateContact(ctx context.Context, contact Contact) (*Contact, error) {
	var updated Contact
	if err := c.request(ctx, http.MethodPut, "/v1/contacts/"+url.PathEscape(contact.ID), contact, &updated); err != nil {
		return nil, fmt.Errorf("update contact %q: %w", contact.ID, err)
	}
	c.cacheContact(&updated)
	c.log.Info("address book contact updated", "id", updated.ID, "name", updated.DisplayName)
	return &updated, nil
}

// DeleteContact removes a contact. displayName is only for logging.
func (c *Client) DeleteContact(ctx context.Context, id, displayName string) error {
	if err := c.request(ctx, http.MethodDelete, "/v1/contacts/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete contact %q: %w", id, err)
	}
	delete(c.byID, id)
	c.log.Info("address book contact deleted", "id", id, "name", displayName)
	return nil
}

// LabelID returns the id for a label name, creating the label when
// createMissing is set. Returns "" for an unknown name otherwise.
func (c *Client) LabelID(ctx context.Context, name string, createMissing bool) (string, error) {
	if err := c.ensureLabels(ctx); err != nil {
		return "", err
	}
	if id, ok := c.labels[name]; ok {
		return id, nil
	}
	if !createMissing {
		return "", nil
	}
	label, err := c.CreateLabel(ctx, name)
	if err != nil {
		return "", err
	}
	return label.ID, nil
}

// LabelName resolves a label id to its name, falling back to the raw id.
func (c *Client) LabelName(id string) string {
	if name, ok := c.labelNames[id]; ok {
		return name
	}
	return id
}

// CreateLabel makes a new label and registers it in the catalog cache.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	var label Label
	if err := c.request(ctx, http.MethodPost, "/v1/labels", Label{Name: name}, &label); err != nil {
		return nil, fmt.Errorf("create label %q: %w", name, err)
	}
	c.labels[label.Name] = label.ID
	c.labelNames[label.ID] = label.Name
	c.log.Info("address book label created", "id", label.ID, "name", label.Name)
	return &label, nil
}

func (c *Client) ensureLabels(ctx context.Context) error {
	if c.labels != nil {
		return nil
	}
	var result struct {
		Labels []Label `json:"labels"`
	}
	if err := c.request(ctx, http.MethodGet, "/v1/labels", nil, &result); err != nil {
		return fmt.Errorf("fetch labels: %w", err)
	}
	c.labels = make(map[string]string, len(result.Labels))
	c.labelNames = make(map[string]string, len(result.Labels))
	for _, l := range result.Labels {
		c.labels[l.Name] = l.ID
		c.labelNames[l.ID] = l.Name
	}

	var err error
	if c.include, err = c.resolveFilter(ctx, c.includeNames); err != nil {
		return err
	}
	if c.exclude, err = c.resolveFilter(ctx, c.excludeNames); err != nil {
		return err
	}
	return nil
}

// resolveFilter turns configured label names into an id set. Unknown names
// get created so the user can start tagging contacts with them right away.
func (c *Client) resolveFilter(ctx context.Context, names []string) (map[string]bool, error) {
	ids := make(map[string]bool, len(names))
	for _, name := range names {
		id, err := c.LabelID(ctx, name, true)
		if err != nil {
			return nil, fmt.Errorf("resolve label filter %q: %w", name, err)
		}
		ids[id] = true
	}
	return ids, nil
}

// filterByLabels applies the include/exclude filters. With an include set,
// a contact must carry at least one included label and no excluded one;
// with only an exclude set, carrying any excluded label drops it.
// Tombstones pass through untouched so deletions still propagate.
func (c *Client) filterByLabels(contacts []Contact) []Contact {
	if len(c.include) == 0 && len(c.exclude) == 0 {
		return contacts
	}
	kept := make([]Contact, 0, len(contacts))
	for _, contact := range contacts {
		if contact.Deleted || c.labelAllowed(&contact) {
			kept = append(kept, contact)
		}
	}
	return kept
}

func (c *Client) labelAllowed(contact *Contact) bool {
	if len(c.include) > 0 {
		included := false
		for _, id := range contact.LabelIDs {
			if c.include[id] {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, id := range contact.LabelIDs {
		if c.exclude[id] {
			return false
		}
	}
	return true
}

// filterUnnamed drops contacts with no name at all; they can be neither
// matched nor meaningfully created on the other side. Tombstones stay,
// deletions carry no name either.
func (c *Client) filterUnnamed(contacts []Contact) []Contact {
	kept := make([]Contact, 0, len(contacts))
	for _, contact := range contacts {
		if contact.Deleted || contact.HasName() {
			kept = append(kept, contact)
			continue
		}
		c.log.Info("skipping unnamed address book contact", "id", contact.ID)
	}
	return kept
}

func (c *Client) cacheContacts(contacts []Contact) {
	for i := range contacts {
		c.cacheContact(&contacts[i])
	}
}

func (c *Client) cacheContact(contact *Contact) {
	copied := *contact
	c.byID[contact.ID] = &copied
}

type contactPage struct {
	Contacts []Contact `json:"contacts"`
	Cursor   string    `json:"cursor,omitempty"`
}

// listPages walks a paged contact listing until a short page, collecting
// the change cursor the server attaches to the final page.
func (c *Client) listPages(ctx context.Context, basePath string) ([]Contact, string, error) {
	var all []Contact
	var cursor string
	sep := "?"
	if strings.Contains(basePath, "?") {
		sep = "&"
	}
	for page := 1; ; page++ {
		path := fmt.Sprintf("%s%spage=%d&per_page=%d", basePath, sep, page, c.pageSize)
		var result contactPage
		if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, "", err
		}
		all = append(all, result.Contacts...)
		if result.Cursor != "" {
			cursor = result.Cursor
		}
		if len(result.Contacts) < c.pageSize {
			break
		}
	}
	return all, cursor, nil
}

// request sends one API call through the retry policy.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	return c.retry.Do(ctx, func() error {
		return c.do(ctx, method, path, body, out)
	})
}

// do performs a single HTTP exchange and classifies failures for the retry
// policy: network faults and 5xx are transient, 429 carries the server's
// wait, 410 means the change cursor is gone, anything else is permanent.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()
	c.requests++

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("%s %s: read response: %w", method, path, err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &retry.RateLimitError{Wait: retryAfter(resp)}
	case resp.StatusCode == http.StatusGone:
		return ErrCursorExpired
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 500:
		return retry.Transient(fmt.Errorf("API error: %s (status %d)", data, resp.StatusCode))
	case resp.StatusCode >= 300:
		return fmt.Errorf("API error: %s (status %d)", data, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return defaultRateLimitWait
}
