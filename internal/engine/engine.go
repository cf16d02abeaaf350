// Package engine drives the two-way synchronization between an address
// book and a CRM. The address book is authoritative: profile data always
// flows from it to the CRM, while contacts that exist only in the CRM
// can be carried back once via sync-back.
//
// All pairing state lives in the store; the in-memory identity index is
// rebuilt from it at the start of every operation and patched only after
// the corresponding store write succeeded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// Options configures sync behavior.
type Options struct {
	// DeleteOnSync deletes the CRM counterpart when the address book
	// reports a contact deleted. Off means the pairing is removed but
	// the CRM contact stays.
	DeleteOnSync bool

	// StreetReversal rewrites "13 Auenweg" into "Auenweg 13" during
	// address sync.
	StreetReversal bool

	// CreateReminders asks the CRM to create birthday and deceased-date
	// reminders when uploading profiles.
	CreateReminders bool

	// Fields selects the detail groups to sync: career, address, phone,
	// email, labels, notes.
	Fields []string
}

// Engine orchestrates sync runs. One Engine covers one invocation;
// request counters and the gender catalog cache live for its lifetime.
type Engine struct {
	store store.Store
	abook AddressBook
	crm   CRM
	port  DecisionPort
	log   *slog.Logger
	opts  Options

	// Callbacks for UI feedback (optional)
	OnProgress func(msg string)
	OnWarning  func(msg string)

	fields  map[string]bool
	genders map[string]int64

	// skipCreationPrompt is set once the user answers "yes to all".
	skipCreationPrompt bool

	start time.Time
}

// New builds an engine over an opened store and the two connector
// clients. port answers the interactive questions of an initial sync.
func New(st store.Store, ab AddressBook, cr CRM, port DecisionPort, log *slog.Logger, opts Options) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	fields := make(map[string]bool, len(opts.Fields))
	for _, f := range opts.Fields {
		fields[f] = true
	}
	return &Engine{
		store:  st,
		abook:  ab,
		crm:    cr,
		port:   port,
		log:    log,
		opts:   opts,
		fields: fields,
		start:  time.Now(),
	}
}

// Initial wipes the pairing store, matches every address book contact
// against the CRM (interactively where ambiguous), and runs the first
// full sync once the user confirms.
func (e *Engine) Initial(ctx context.Context) error {
	e.progress("Starting initial sync...")
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("resetting store: %w", err)
	}
	idx := newIdentityIndex(nil)
	if err := e.buildMatches(ctx, idx); err != nil {
		return err
	}

	// Notes are marker-protected and never overwritten, so they stay out
	// of the confirmation list.
	confirm := make([]string, 0, len(e.opts.Fields))
	for _, f := range e.opts.Fields {
		if f != "notes" {
			confirm = append(confirm, f)
		}
	}
	ok, err := e.port.ConfirmInitial(confirm)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return e.fullPass(ctx, idx)
}

// Full syncs every address book contact, skipping pairs whose stored
// revision stamp still matches.
func (e *Engine) Full(ctx context.Context) error {
	idx, err := e.loadIndex(ctx)
	if err != nil {
		return err
	}
	if idx.empty() {
		return ErrNoMapping
	}
	return e.fullPass(ctx, idx)
}

// Delta syncs only address book changes since the stored cursor. With no
// cursor yet, or an expired one, it degrades to a full sync.
func (e *Engine) Delta(ctx context.Context) error {
	idx, err := e.loadIndex(ctx)
	if err != nil {
		return err
	}
	if idx.empty() {
		return ErrNoMapping
	}
	cursor, err := e.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("loading cursor: %w", err)
	}
	if cursor == nil {
		e.progress("No change cursor stored, delta sync not possible. Doing full sync instead...")
		return e.fullPass(ctx, idx)
	}

	e.progress("Starting delta sync...")
	changes, next, err := e.abook.ListChanges(ctx, cursor.Token)
	if errors.Is(err, abook.ErrCursorExpired) {
		e.warn("change cursor expired, falling back to full sync")
		return e.fullPass(ctx, idx)
	}
	if err != nil {
		return fmt.Errorf("listing address book changes: %w", err)
	}
	if err := e.syncContacts(ctx, idx, changes, false); err != nil {
		return err
	}
	if next != "" {
		if err := e.store.SetCursor(ctx, next); err != nil {
			return fmt.Errorf("persisting cursor: %w", err)
		}
	}
	e.progress("Delta sync finished!")
	return nil
}

// fullPass is the shared body of Full, degraded Delta, and the sync that
// closes an initial run.
func (e *Engine) fullPass(ctx context.Context, idx *identityIndex) error {
	e.progress("Starting full sync...")
	contacts, cursor, err := e.abook.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing address book contacts: %w", err)
	}
	// One CRM listing up front; per-pair lookups below hit its cache.
	if _, err := e.crm.ListContacts(ctx); err != nil {
		return fmt.Errorf("listing CRM contacts: %w", err)
	}
	if err := e.syncContacts(ctx, idx, contacts, true); err != nil {
		return err
	}
	if cursor != "" {
		if err := e.store.SetCursor(ctx, cursor); err != nil {
			return fmt.Errorf("persisting cursor: %w", err)
		}
	}
	e.progress("Full sync finished!")
	return nil
}

// syncContacts runs the per-contact body over one batch. stampSkip
// enables the revision-stamp shortcut; delta feeds pre-filtered changes
// and goes without. Per-contact failures are logged and skipped; only
// store writes and counterpart fetches for known pairs abort the run.
func (e *Engine) syncContacts(ctx context.Context, idx *identityIndex, contacts []abook.Contact, stampSkip bool) error {
	if len(contacts) == 0 {
		e.progress("No (changed) address book contacts found!")
		return nil
	}
	for i := range contacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.progress("Processing address book contact %d of %d", i+1, len(contacts))
		if err := e.syncContact(ctx, idx, &contacts[i], stampSkip); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncContact(ctx context.Context, idx *identityIndex, a *abook.Contact, stampSkip bool) error {
	if a.Deleted {
		return e.tearDown(ctx, idx, a.ID)
	}

	row, err := e.store.FindByABookID(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", a.ID, err)
	}
	if row == nil {
		return e.createCounterpart(ctx, idx, a)
	}

	// A stored stamp equal to the remote one means nothing changed since
	// the pair last merged. An empty stored stamp marks a pair that never
	// merged, so it never skips.
	if stampSkip && row.ABookChanged != "" && row.ABookChanged == a.Updated {
		return nil
	}

	crmID, err := crm.ParseID(row.CRMID)
	if err != nil {
		return fmt.Errorf("pairing for %q carries bad CRM id %q: %w", a.ID, row.CRMID, err)
	}
	c, err := e.crm.GetContact(ctx, crmID)
	if errors.Is(err, crm.ErrExcluded) {
		e.warn("%q (%s): CRM counterpart is excluded by label filter, skipping", row.CRMName, row.CRMID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching CRM contact %s for %q: %w", row.CRMID, row.ABookName, err)
	}
	if c == nil {
		return fmt.Errorf("dangling pairing: CRM contact %s for %q is gone, run a check", row.CRMID, row.ABookName)
	}

	genders, err := e.ensureGenders(ctx)
	if err != nil {
		return err
	}
	if err := e.mergeProfile(ctx, genders, a, c); err != nil {
		e.warn("%v", err)
		return nil
	}

	// Stamp the row before the detail sync. Detail failures are soft and
	// must not put the contact back into every future full sync.
	display := displayName(a)
	upd := store.MappingUpdate{Name: &display, Changed: &a.Updated}
	if err := e.store.UpdateABook(ctx, a.ID, upd); err != nil {
		return fmt.Errorf("updating pairing for %q: %w", a.ID, err)
	}

	// The profile update may have changed the complete name; details key
	// off fresh data.
	c, err = e.crm.GetContact(ctx, crmID)
	if err != nil {
		return fmt.Errorf("refetching CRM contact %s for %q: %w", row.CRMID, row.ABookName, err)
	}
	if c == nil {
		return fmt.Errorf("dangling pairing: CRM contact %s for %q is gone, run a check", row.CRMID, row.ABookName)
	}

	// The fresh copy also carries the CRM's post-merge name and revision
	// stamp; keep the row's CRM side current with it.
	cupd := store.MappingUpdate{Name: &c.CompleteName, Changed: &c.UpdatedAt}
	if err := e.store.UpdateCRM(ctx, row.CRMID, cupd); err != nil {
		return fmt.Errorf("updating pairing for %q: %w", row.CRMID, err)
	}

	e.syncDetails(ctx, a, c)
	return nil
}

// createCounterpart handles an address book contact with no stored
// pairing: create the CRM contact, store the pair, sync details.
func (e *Engine) createCounterpart(ctx context.Context, idx *identityIndex, a *abook.Contact) error {
	display := displayName(a)
	e.progress("%q (%s): no CRM counterpart found, creating a new contact...", display, a.ID)

	genders, err := e.ensureGenders(ctx)
	if err != nil {
		return err
	}
	c, err := e.createCRMContact(ctx, genders, a)
	if err != nil {
		// Next run finds the contact still unpaired and retries.
		e.warn("%v", err)
		return nil
	}
	e.progress("%q (%d): new CRM contact created", c.CompleteName, c.ID)

	m := store.Mapping{
		ABookID:      a.ID,
		CRMID:        crm.FormatID(c.ID),
		ABookName:    display,
		CRMName:      c.CompleteName,
		ABookChanged: a.Updated,
		CRMChanged:   c.UpdatedAt,
	}
	if err := e.store.Insert(ctx, m); err != nil {
		return fmt.Errorf("storing pairing %q <-> %q: %w", m.ABookID, m.CRMID, err)
	}
	idx.add(m.ABookID, m.CRMID)
	e.progress("%q <-> %q: new sync connection added", m.ABookID, m.CRMID)

	e.syncDetails(ctx, a, c)
	return nil
}

// tearDown removes the pairing for a deleted address book contact and,
// if configured, the CRM contact with it. Remote failures leave the row
// in place so a check can report it later.
func (e *Engine) tearDown(ctx context.Context, idx *identityIndex, abookID string) error {
	row, err := e.store.FindByABookID(ctx, abookID)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", abookID, err)
	}
	if row == nil {
		e.warn("deleted contact %q has no pairing, nothing to remove", abookID)
		return nil
	}
	e.progress("%q (%s): address book contact deleted, removing pairing...", row.ABookName, abookID)

	if e.opts.DeleteOnSync {
		crmID, err := crm.ParseID(row.CRMID)
		if err != nil {
			e.warn("pairing for %q carries bad CRM id %q: %v", abookID, row.CRMID, err)
			return nil
		}
		if err := e.crm.DeleteContact(ctx, crmID, row.CRMName); err != nil {
			e.warn("%q (%s): deleting CRM contact failed: %v", row.CRMName, row.CRMID, err)
			return nil
		}
	}
	if err := e.store.Delete(ctx, row.ABookID, row.CRMID); err != nil {
		return fmt.Errorf("removing pairing %q <-> %q: %w", row.ABookID, row.CRMID, err)
	}
	idx.remove(row.ABookID, row.CRMID)
	e.progress("%q (%s): pairing removed", row.ABookName, abookID)
	return nil
}

func (e *Engine) loadIndex(ctx context.Context) (*identityIndex, error) {
	mappings, err := e.store.AllMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading mappings: %w", err)
	}
	return newIdentityIndex(mappings), nil
}

// progress reports a normal step to the log and the OnProgress callback.
func (e *Engine) progress(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.Info(msg)
	if e.OnProgress != nil {
		e.OnProgress(msg)
	}
}

// warn reports a recoverable problem.
func (e *Engine) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.Warn(msg)
	if e.OnWarning != nil {
		e.OnWarning("Warning: " + msg)
	}
}

// errorf reports a non-fatal error, as the consistency check does for
// each dangling pairing.
func (e *Engine) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.Error(msg)
	if e.OnWarning != nil {
		e.OnWarning("Error: " + msg)
	}
}
