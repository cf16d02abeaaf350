// Package crm is the HTTP client for the personal CRM service. The API is
// envelope-based: single resources come back under "data", listings add a
// "meta" block with page counts. Contact profiles are written through
// ProfileForm; phone numbers, emails, notes, addresses, tags and career
// info are separate sub-resources.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pairsync/pairsync/internal/retry"
)

const (
	// DefaultTimeout is the HTTP client timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the listing page size.
	DefaultPageSize = 100

	// defaultRateLimitWait applies when a 429 carries no Retry-After.
	defaultRateLimitWait = 60 * time.Second
)

var (
	// ErrExcluded reports that a contact exists but is hidden by the
	// label filters.
	ErrExcluded = errors.New("contact not syncable")

	// ErrNotFound reports a 404 from the API.
	ErrNotFound = errors.New("not found")
)

// FormatID renders a CRM contact id the way the mapping store keeps it.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID parses a stored CRM contact id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad contact id %q: %w", s, err)
	}
	return id, nil
}

// Config carries the connection settings for a CRM client. BaseURL
// includes the API prefix (e.g. https://crm.example.com/api). Label
// filters are tag names.
type Config struct {
	BaseURL       string
	Token         string
	IncludeLabels []string
	ExcludeLabels []string
	Timeout       time.Duration
	PageSize      int
}

// Client is a CRM API client. Not safe for concurrent use; each run owns
// its client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *slog.Logger
	retry      *retry.Policy
	pageSize   int

	include map[string]bool // tag names
	exclude map[string]bool

	// Run cache. order keeps listing order so a second ListContacts can
	// serve a consistent snapshot without refetching.
	byID    map[int64]*Contact
	order   []int64
	fetched bool

	genders    map[string]int64 // type -> id, fetched once
	fieldTypes map[string]int64 // "email"/"phone" -> id, fetched once

	requests int64
	created  map[int64]bool
	updated  map[int64]bool
	deleted  int
}

// New returns a client for the CRM API. A nil log discards.
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
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		retry:      retry.NewPolicy(log),
		pageSize:   pageSize,
		include:    nameSet(cfg.IncludeLabels),
		exclude:    nameSet(cfg.ExcludeLabels),
		byID:       make(map[int64]*Contact),
		created:    make(map[int64]bool),
		updated:    make(map[int64]bool),
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// Stats reports what this client did so far. Updated excludes contacts
// this run also created, so a freshly created contact whose details were
// filled in right after counts once.
func (c *Client) Stats() Stats {
	updated := 0
	for id := range c.updated {
		if !c.created[id] {
			updated++
		}
	}
	return Stats{
		Requests: c.requests,
		Created:  len(c.created),
		Updated:  updated,
		Deleted:  c.deleted,
	}
}

// markUpdated records a detail or profile write against a contact.
func (c *Client) markUpdated(id int64) {
	c.updated[id] = true
}

// ListContacts fetches every syncable contact. The listing is cached;
// later calls in the same run serve the cache, with any contacts created,
// updated or deleted in between reflected.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	if c.fetched {
		return c.snapshot(), nil
	}
	c.log.Info("fetching CRM contacts")
	var all []Contact
	for page := 1; ; page++ {
		var result struct {
			Data []Contact `json:"data"`
			Meta struct {
				CurrentPage int `json:"current_page"`
				LastPage    int `json:"last_page"`
			} `json:"meta"`
		}
		path := fmt.Sprintf("/contacts?page=%d&limit=%d", page, c.pageSize)
		if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, fmt.Errorf("fetch contacts: %w", err)
		}
		all = append(all, result.Data...)
		if result.Meta.CurrentPage >= result.Meta.LastPage {
			break
		}
	}
	all = c.filterByLabels(all)
	for i := range all {
		c.cacheContact(&all[i])
	}
	c.fetched = true
	c.log.Info("fetched CRM contacts", "count", len(all))
	return all, nil
}

func (c *Client) snapshot() []Contact {
	contacts := make([]Contact, 0, len(c.order))
	for _, id := range c.order {
		if contact, ok := c.byID[id]; ok {
			contacts = append(contacts, *contact)
		}
	}
	return contacts
}

// GetContact returns one contact by id, from the run cache when possible.
// A contact the server no longer has comes back as (nil, nil); contacts
// hidden by the label filters come back as ErrExcluded.
func (c *Client) GetContact(ctx context.Context, id int64) (*Contact, error) {
	if cached, ok := c.byID[id]; ok {
		return cached, nil
	}
	var result struct {
		Data Contact `json:"data"`
	}
	if err := c.request(ctx, http.MethodGet, fmt.Sprintf("/contacts/%d", id), nil, &result); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch contact %d: %w", id, err)
	}
	if !c.labelAllowed(&result.Data) {
		return nil, fmt.Errorf("contact %d hidden by label filter: %w", id, ErrExcluded)
	}
	c.cacheContact(&result.Data)
	return c.byID[id], nil
}

// CreateContact uploads a new contact profile and returns the stored
// version with its server-assigned id.
func (c *Client) CreateContact(ctx context.Context, form ProfileForm) (*Contact, error) {
	var result struct {
		Data Contact `json:"data"`
	}
	if err := c.request(ctx, http.MethodPost, "/contacts", form, &result); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	c.created[result.Data.ID] = true
	c.cacheContact(&result.Data)
	c.log.Info("CRM contact created", "id", result.Data.ID, "name", result.Data.CompleteName)
	return c.byID[result.Data.ID], nil
}

// UpdateContact replaces a contact's profile and returns the stored
// version. The cache entry is replaced so later reads see fresh data.
func (c *Client) UpdateContact(ctx context.Context, id int64, form ProfileForm) (*Contact, error) {
	var result struct {
		Data Contact `json:"data"`
	}
	if err := c.request(ctx, http.MethodPut, fmt.Sprintf("/contacts/%d", id), form, &result); err != nil {
		return nil, fmt.Errorf("update contact %d: %w", id, err)
	}
	c.markUpdated(id)
	c.cacheContact(&result.Data)
	c.log.Info("CRM contact updated", "id", id, "name", result.Data.CompleteName)
	return c.byID[id], nil
}

// DeleteContact removes a contact. name is only for logging.
func (c *Client) DeleteContact(ctx context.Context, id int64, name string) error {
	if err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/contacts/%d", id), nil, nil); err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	c.deleted++
	delete(c.byID, id)
	for i, cached := range c.order {
		if cached == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.log.Info("CRM contact deleted", "id", id, "name", name)
	return nil
}

// CreateAddress adds a postal address to a contact.
func (c *Client) CreateAddress(ctx context.Context, form AddressForm, name string) error {
	if err := c.request(ctx, http.MethodPost, "/addresses", form, nil); err != nil {
		return fmt.Errorf("create address for contact %d: %w", form.ContactID, err)
	}
	c.markUpdated(form.ContactID)
	c.log.Info("CRM address created", "contact", form.ContactID, "name", name)
	return nil
}

// DeleteAddress removes one address from a contact.
func (c *Client) DeleteAddress(ctx context.Context, addressID, contactID int64, name string) error {
	if err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/addresses/%d", addressID), nil, nil); err != nil {
		return fmt.Errorf("delete address %d of contact %d: %w", addressID, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM address deleted", "contact", contactID, "address", addressID, "name", name)
	return nil
}

// Fields fetches the phone and email entries of a contact.
func (c *Client) Fields(ctx context.Context, contactID int64, name string) ([]ContactField, error) {
	var result struct {
		Data []ContactField `json:"data"`
	}
	path := fmt.Sprintf("/contacts/%d/contactfields", contactID)
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetch contact fields of %q (%d): %w", name, contactID, err)
	}
	return result.Data, nil
}

// CreateField adds one phone or email entry to a contact.
func (c *Client) CreateField(ctx context.Context, form FieldForm, name string) error {
	if err := c.request(ctx, http.MethodPost, "/contactfields", form, nil); err != nil {
		return fmt.Errorf("create contact field for %q (%d): %w", name, form.ContactID, err)
	}
	c.markUpdated(form.ContactID)
	c.log.Info("CRM contact field created", "contact", form.ContactID, "name", name)
	return nil
}

// DeleteField removes one phone or email entry from a contact.
func (c *Client) DeleteField(ctx context.Context, fieldID, contactID int64, name string) error {
	if err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/contactfields/%d", fieldID), nil, nil); err != nil {
		return fmt.Errorf("delete contact field %d of %q (%d): %w", fieldID, name, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM contact field deleted", "contact", contactID, "field", fieldID, "name", name)
	return nil
}

// FieldTypeID resolves a contact field kind ("email" or "phone") to its
// catalog id. The catalog is fetched once per run.
func (c *Client) FieldTypeID(ctx context.Context, kind string) (int64, error) {
	if c.fieldTypes == nil {
		var result struct {
			Data []FieldType `json:"data"`
		}
		if err := c.request(ctx, http.MethodGet, "/contactfieldtypes", nil, &result); err != nil {
			return 0, fmt.Errorf("fetch contact field types: %w", err)
		}
		c.fieldTypes = make(map[string]int64, len(result.Data))
		for _, ft := range result.Data {
			c.fieldTypes[ft.Type] = ft.ID
		}
	}
	id, ok := c.fieldTypes[kind]
	if !ok {
		return 0, fmt.Errorf("CRM has no contact field type %q", kind)
	}
	return id, nil
}

// Notes fetches the notes of a contact.
func (c *Client) Notes(ctx context.Context, contactID int64, name string) ([]Note, error) {
	var result struct {
		Data []Note `json:"data"`
	}
	path := fmt.Sprintf("/contacts/%d/notes", contactID)
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetch notes of %q (%d): %w", name, contactID, err)
	}
	return result.Data, nil
}

// CreateNote adds a note to a contact.
func (c *Client) CreateNote(ctx context.Context, form NoteForm, name string) error {
	if err := c.request(ctx, http.MethodPost, "/notes", form, nil); err != nil {
		return fmt.Errorf("create note for %q (%d): %w", name, form.ContactID, err)
	}
	c.markUpdated(form.ContactID)
	c.log.Info("CRM note created", "contact", form.ContactID, "name", name)
	return nil
}

// UpdateNote replaces a note's body.
func (c *Client) UpdateNote(ctx context.Context, noteID int64, form NoteForm, name string) error {
	if err := c.request(ctx, http.MethodPut, fmt.Sprintf("/notes/%d", noteID), form, nil); err != nil {
		return fmt.Errorf("update note %d of %q (%d): %w", noteID, name, form.ContactID, err)
	}
	c.markUpdated(form.ContactID)
	c.log.Info("CRM note updated", "contact", form.ContactID, "note", noteID, "name", name)
	return nil
}

// DeleteNote removes a note from a contact.
func (c *Client) DeleteNote(ctx context.Context, noteID, contactID int64, name string) error {
	if err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/notes/%d", noteID), nil, nil); err != nil {
		return fmt.Errorf("delete note %d of %q (%d): %w", noteID, name, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM note deleted", "contact", contactID, "note", noteID, "name", name)
	return nil
}

// SetLabels assigns the full set of tag names to a contact. Tags unknown
// to the CRM are created server-side.
func (c *Client) SetLabels(ctx context.Context, contactID int64, names []string, displayName string) error {
	body := map[string][]string{"tags": names}
	path := fmt.Sprintf("/contacts/%d/setTags", contactID)
	if err := c.request(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("assign labels to %q (%d): %w", displayName, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM labels assigned", "contact", contactID, "labels", names, "name", displayName)
	return nil
}

// RemoveLabels detaches tags by id from a contact.
func (c *Client) RemoveLabels(ctx context.Context, contactID int64, tagIDs []int64, displayName string) error {
	body := map[string][]int64{"tags": tagIDs}
	path := fmt.Sprintf("/contacts/%d/unsetTag", contactID)
	if err := c.request(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("remove labels from %q (%d): %w", displayName, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM labels removed", "contact", contactID, "tags", tagIDs, "name", displayName)
	return nil
}

// UpdateCareer replaces the job and company of a contact.
func (c *Client) UpdateCareer(ctx context.Context, contactID int64, career Career, name string) error {
	path := fmt.Sprintf("/contacts/%d/work", contactID)
	if err := c.request(ctx, http.MethodPut, path, career, nil); err != nil {
		return fmt.Errorf("update career of %q (%d): %w", name, contactID, err)
	}
	c.markUpdated(contactID)
	c.log.Info("CRM career updated", "contact", contactID, "name", name)
	return nil
}

// Genders fetches the gender catalog as a type-to-id map, once per run.
func (c *Client) Genders(ctx context.Context) (map[string]int64, error) {
	if c.genders != nil {
		return c.genders, nil
	}
	var result struct {
		Data []Gender `json:"data"`
	}
	if err := c.request(ctx, http.MethodGet, "/genders", nil, &result); err != nil {
		return nil, fmt.Errorf("fetch genders: %w", err)
	}
	c.genders = make(map[string]int64, len(result.Data))
	for _, g := range result.Data {
		c.genders[g.Type] = g.ID
	}
	return c.genders, nil
}

// filterByLabels applies the include/exclude tag filters; exclusion wins.
func (c *Client) filterByLabels(contacts []Contact) []Contact {
	if len(c.include) == 0 && len(c.exclude) == 0 {
		return contacts
	}
	kept := make([]Contact, 0, len(contacts))
	for _, contact := range contacts {
		if c.labelAllowed(&contact) {
			kept = append(kept, contact)
		}
	}
	return kept
}

func (c *Client) labelAllowed(contact *Contact) bool {
	if len(c.include) > 0 {
		included := false
		for _, tag := range contact.Tags {
			if c.include[tag.Name] {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, tag := range contact.Tags {
		if c.exclude[tag.Name] {
			return false
		}
	}
	return true
}

func (c *Client) cacheContact(contact *Contact) {
	if _, ok := c.byID[contact.ID]; !ok {
		c.order = append(c.order, contact.ID)
	}
	copied := *contact
	c.byID[contact.ID] = &copied
}

// request sends one API call through the retry policy.
func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	return c.retry.Do(ctx, func() error {
		return c.do(ctx, method, path, body, out)
	})
}

// do performs a single HTTP exchange and classifies failures for the retry
// policy the same way the address book client does.
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
