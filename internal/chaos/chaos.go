// Package chaos mutates the two remote sides in seeded pseudo-random
// ways so sync runs can be exercised end to end against live services.
// Every mutation is recorded in a state file and reverted by Restore.
package chaos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/google/uuid"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// Recreated records a delete-and-create cycle: the contact came back
// with a fresh server id, so sync sees a tombstone plus a stranger.
type Recreated struct {
	Original abook.Contact `json:"original"`
	NewID    string        `json:"new_id"`
}

// State is everything needed to undo a chaos run. It is persisted as
// JSON after every mode so Restore works across invocations.
type State struct {
	Seed int64 `json:"seed"`

	UpdatedABook   []abook.Contact `json:"updated_abook,omitempty"`
	DeletedABook   []abook.Contact `json:"deleted_abook,omitempty"`
	RecreatedABook []Recreated     `json:"recreated_abook,omitempty"`
	CreatedABook   []string        `json:"created_abook,omitempty"`
	CreatedCRM     []int64         `json:"created_crm,omitempty"`

	DeletedRows  []store.Mapping `json:"deleted_rows,omitempty"`
	InsertedRows []store.Mapping `json:"inserted_rows,omitempty"`
}

// Harness drives chaos runs against the two connectors and the pairing
// store. One harness covers one invocation. All mutations run on the
// calling goroutine; the connector clients require that.
type Harness struct {
	abook     *abook.Client
	crm       *crm.Client
	store     store.Store
	log       *slog.Logger
	rng       *rand.Rand
	statePath string
	state     State
}

// New builds a harness. statePath is where mutation state is persisted;
// an existing file is loaded so successive runs accumulate into one
// restorable state.
func New(ab *abook.Client, cr *crm.Client, st store.Store, log *slog.Logger, statePath string, seed int64) (*Harness, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Harness{
		abook:     ab,
		crm:       cr,
		store:     st,
		log:       log,
		rng:       rand.New(rand.NewSource(seed)),
		statePath: statePath,
	}
	data, err := os.ReadFile(statePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		h.state.Seed = seed
	case err != nil:
		return nil, fmt.Errorf("reading chaos state: %w", err)
	default:
		if err := json.Unmarshal(data, &h.state); err != nil {
			return nil, fmt.Errorf("parsing chaos state %q: %w", statePath, err)
		}
	}
	return h, nil
}

func (h *Harness) save() error {
	data, err := json.MarshalIndent(&h.state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(h.statePath, data, 0o644)
}

// Initial seeds n matched pairs on both sides: an address book contact
// plus a CRM contact carrying the same name. Every third pair gets its
// given and family name rotated on the CRM side, producing the loose
// match cases an initial sync must escalate.
func (h *Harness) Initial(ctx context.Context, n int) error {
	for i, p := range h.invent(n) {
		rotated := i%3 == 2
		created, err := h.abook.CreateContact(ctx, abook.Contact{
			GivenName:   p.first,
			FamilyName:  p.last,
			DisplayName: p.first + " " + p.last,
		})
		if err != nil {
			return err
		}
		h.state.CreatedABook = append(h.state.CreatedABook, created.ID)
		first, last := p.first, p.last
		if rotated {
			first, last = last, first
		}
		c, err := h.crm.CreateContact(ctx, crm.NewProfileForm(crm.ProfileParams{
			FirstName: first,
			LastName:  last,
		}, nil))
		if err != nil {
			return err
		}
		h.state.CreatedCRM = append(h.state.CreatedCRM, c.ID)
		h.log.Info("seeded pair", "abook", created.ID, "crm", c.ID, "rotated", rotated)
	}
	return h.save()
}

// Delta updates n random address book contacts and deletes n others, so
// the change feed carries both edits and tombstones.
func (h *Harness) Delta(ctx context.Context, n int) error {
	victims, err := h.pickContacts(ctx, 2*n)
	if err != nil {
		return err
	}
	for i, c := range victims {
		if i < n {
			if err := h.mutateContact(ctx, c); err != nil {
				return err
			}
			continue
		}
		if err := h.abook.DeleteContact(ctx, c.ID, c.DisplayName); err != nil {
			return err
		}
		h.state.DeletedABook = append(h.state.DeletedABook, c)
		h.log.Info("deleted contact", "id", c.ID, "name", c.DisplayName)
	}
	return h.save()
}

// Full updates n random address book contacts and recreates n others
// under fresh server ids, leaving the store pointing at ids that no
// longer exist.
func (h *Harness) Full(ctx context.Context, n int) error {
	victims, err := h.pickContacts(ctx, 2*n)
	if err != nil {
		return err
	}
	for i, c := range victims {
		if i < n {
			if err := h.mutateContact(ctx, c); err != nil {
				return err
			}
			continue
		}
		if err := h.abook.DeleteContact(ctx, c.ID, c.DisplayName); err != nil {
			return err
		}
		clone := c
		clone.ID = ""
		clone.Updated = ""
		created, err := h.abook.CreateContact(ctx, clone)
		if err != nil {
			return err
		}
		h.state.RecreatedABook = append(h.state.RecreatedABook, Recreated{Original: c, NewID: created.ID})
		h.log.Info("recreated contact", "old", c.ID, "new", created.ID, "name", c.DisplayName)
	}
	return h.save()
}

// SyncBack creates n CRM-only contacts for a sync-back run to carry over.
func (h *Harness) SyncBack(ctx context.Context, n int) error {
	for _, p := range h.invent(n) {
		c, err := h.crm.CreateContact(ctx, crm.NewProfileForm(crm.ProfileParams{
			FirstName: p.first,
			LastName:  p.last,
		}, nil))
		if err != nil {
			return err
		}
		h.state.CreatedCRM = append(h.state.CreatedCRM, c.ID)
		h.log.Info("seeded CRM-only contact", "id", c.ID, "name", c.CompleteName)
	}
	return h.save()
}

// Check corrupts the pairing store: n random rows deleted, n imaginary
// rows inserted. A consistency check must flag all of them.
func (h *Harness) Check(ctx context.Context, n int) error {
	mappings, err := h.store.AllMappings(ctx)
	if err != nil {
		return err
	}
	h.rng.Shuffle(len(mappings), func(i, j int) {
		mappings[i], mappings[j] = mappings[j], mappings[i]
	})
	if n > len(mappings) {
		n = len(mappings)
	}
	for _, m := range mappings[:n] {
		if err := h.store.Delete(ctx, m.ABookID, m.CRMID); err != nil {
			return err
		}
		h.state.DeletedRows = append(h.state.DeletedRows, m)
		h.log.Info("deleted store row", "abook", m.ABookID, "crm", m.CRMID)
	}
	for _, p := range h.invent(n) {
		m := store.Mapping{
			ABookID:   "ghost-" + uuid.NewString(),
			CRMID:     fmt.Sprintf("9%08d", h.rng.Intn(100000000)),
			ABookName: p.first + " " + p.last,
			CRMName:   p.first + " " + p.last,
		}
		if err := h.store.Insert(ctx, m); err != nil {
			return err
		}
		h.state.InsertedRows = append(h.state.InsertedRows, m)
		h.log.Info("inserted imaginary row", "abook", m.ABookID, "crm", m.CRMID)
	}
	return h.save()
}

// Restore reverts every recorded mutation and removes the state file.
// Recreated contacts get yet another server id; their original field
// values are what comes back, not their original identity.
func (h *Harness) Restore(ctx context.Context) error {
	for _, c := range h.state.UpdatedABook {
		if _, err := h.abook.UpdateContact(ctx, c); err != nil {
			return fmt.Errorf("restoring %q: %w", c.ID, err)
		}
	}
	for _, c := range h.state.DeletedABook {
		c.ID = ""
		c.Updated = ""
		if _, err := h.abook.CreateContact(ctx, c); err != nil {
			return fmt.Errorf("restoring deleted %q: %w", c.DisplayName, err)
		}
	}
	for _, r := range h.state.RecreatedABook {
		if err := h.abook.DeleteContact(ctx, r.NewID, r.Original.DisplayName); err != nil {
			return fmt.Errorf("removing recreated %q: %w", r.NewID, err)
		}
		c := r.Original
		c.ID = ""
		c.Updated = ""
		if _, err := h.abook.CreateContact(ctx, c); err != nil {
			return fmt.Errorf("restoring recreated %q: %w", c.DisplayName, err)
		}
	}
	for _, id := range h.state.CreatedABook {
		if err := h.abook.DeleteContact(ctx, id, ""); err != nil {
			return fmt.Errorf("removing created %q: %w", id, err)
		}
	}
	for _, id := range h.state.CreatedCRM {
		if err := h.crm.DeleteContact(ctx, id, ""); err != nil {
			return fmt.Errorf("removing created CRM contact %d: %w", id, err)
		}
	}
	for _, m := range h.state.InsertedRows {
		if err := h.store.Delete(ctx, m.ABookID, m.CRMID); err != nil {
			return fmt.Errorf("removing imaginary row: %w", err)
		}
	}
	for _, m := range h.state.DeletedRows {
		if err := h.store.Insert(ctx, m); err != nil {
			return fmt.Errorf("reinserting store row: %w", err)
		}
	}
	h.state = State{Seed: h.state.Seed}
	if err := os.Remove(h.statePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	h.log.Info("chaos state restored")
	return nil
}

// mutateContact gives a contact a new nickname and uploads it, keeping
// the pre-update copy for restore.
func (h *Harness) mutateContact(ctx context.Context, c abook.Contact) error {
	mutated := c
	mutated.Nickname = "chaos-" + uuid.NewString()[:8]
	if _, err := h.abook.UpdateContact(ctx, mutated); err != nil {
		return err
	}
	h.state.UpdatedABook = append(h.state.UpdatedABook, c)
	h.log.Info("mutated contact", "id", c.ID, "name", c.DisplayName)
	return nil
}

// pickContacts fetches the current listing and picks n distinct contacts
// at random, skipping contacts this harness created itself.
func (h *Harness) pickContacts(ctx context.Context, n int) ([]abook.Contact, error) {
	contacts, _, err := h.abook.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	own := make(map[string]bool, len(h.state.CreatedABook))
	for _, id := range h.state.CreatedABook {
		own[id] = true
	}
	eligible := contacts[:0:0]
	for _, c := range contacts {
		if !own[c.ID] {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) < n {
		return nil, fmt.Errorf("need %d contacts, address book has %d eligible", n, len(eligible))
	}
	h.rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	return eligible[:n], nil
}

type person struct {
	first, last string
}

var (
	firstNames = []string{"Ada", "Grace", "Linus", "Margaret", "Alan", "Edsger", "Barbara", "Donald", "Radia", "Ken"}
	lastNames  = []string{"Lovelace", "Hopper", "Torvalds", "Hamilton", "Turing", "Dijkstra", "Liskov", "Knuth", "Perlman", "Thompson"}
)

// invent produces n synthetic identities. A uuid fragment in the family
// name keeps them collision-free across runs.
func (h *Harness) invent(n int) []person {
	people := make([]person, n)
	for i := range people {
		people[i] = person{
			first: firstNames[h.rng.Intn(len(firstNames))],
			last:  lastNames[h.rng.Intn(len(lastNames))] + "-" + uuid.NewString()[:8],
		}
	}
	return people
}
