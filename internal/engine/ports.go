package engine

import (
	"context"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
)

// AddressBook is the authoritative side of a sync. The production
// implementation is *abook.Client; tests substitute fakes.
type AddressBook interface {
	// ListContacts returns every syncable contact plus a fresh change
	// cursor.
	ListContacts(ctx context.Context) ([]abook.Contact, string, error)
	// ListChanges returns contacts changed since cursor, tombstones
	// included, plus the next cursor. A stale cursor surfaces as
	// abook.ErrCursorExpired.
	ListChanges(ctx context.Context, cursor string) ([]abook.Contact, string, error)
	// GetContact returns (nil, nil) for an id the service no longer has.
	GetContact(ctx context.Context, id string) (*abook.Contact, error)
	CreateContact(ctx context.Context, contact abook.Contact) (*abook.Contact, error)
	DeleteContact(ctx context.Context, id, name string) error
	// LabelID resolves a label name, creating the label when asked to.
	LabelID(ctx context.Context, name string, createMissing bool) (string, error)
	// LabelName resolves a label id for display, falling back to the id.
	LabelName(id string) string
	Stats() abook.Stats
}

// CRM is the target side of a sync. The production implementation is
// *crm.Client.
type CRM interface {
	ListContacts(ctx context.Context) ([]crm.Contact, error)
	// GetContact returns (nil, nil) for an id the service no longer has.
	GetContact(ctx context.Context, id int64) (*crm.Contact, error)
	CreateContact(ctx context.Context, form crm.ProfileForm) (*crm.Contact, error)
	UpdateContact(ctx context.Context, id int64, form crm.ProfileForm) (*crm.Contact, error)
	DeleteContact(ctx context.Context, id int64, name string) error

	CreateAddress(ctx context.Context, form crm.AddressForm, name string) error
	DeleteAddress(ctx context.Context, addressID, contactID int64, name string) error

	Fields(ctx context.Context, contactID int64, name string) ([]crm.ContactField, error)
	CreateField(ctx context.Context, form crm.FieldForm, name string) error
	DeleteField(ctx context.Context, fieldID, contactID int64, name string) error
	FieldTypeID(ctx context.Context, kind string) (int64, error)

	Notes(ctx context.Context, contactID int64, name string) ([]crm.Note, error)
	CreateNote(ctx context.Context, form crm.NoteForm, name string) error
	UpdateNote(ctx context.Context, noteID int64, form crm.NoteForm, name string) error
	DeleteNote(ctx context.Context, noteID, contactID int64, name string) error

	SetLabels(ctx context.Context, contactID int64, names []string, displayName string) error
	RemoveLabels(ctx context.Context, contactID int64, tagIDs []int64, displayName string) error
	UpdateCareer(ctx context.Context, contactID int64, career crm.Career, name string) error

	// Genders returns the type-to-id gender catalog, cached per run.
	Genders(ctx context.Context) (map[string]int64, error)
	Stats() crm.Stats
}

// Candidate is one possible CRM counterpart offered to the user during
// conflict resolution.
type Candidate struct {
	ID   int64
	Name string
}

// CreateChoice answers a "create new CRM contact?" prompt.
type CreateChoice int

const (
	// CreateNo aborts the initial sync.
	CreateNo CreateChoice = iota
	// CreateYes creates this one contact.
	CreateYes
	// CreateYesToAll creates this contact and suppresses further prompts.
	CreateYesToAll
)

// DecisionPort answers the interactive questions matching cannot settle
// on its own. The CLI implements it with terminal prompts; tests use a
// scripted sequence. Implementations report a user abort as ErrAborted.
type DecisionPort interface {
	// ConfirmInitial asks whether to start the destructive full sync that
	// follows the initial matching pass. fields names what gets
	// overwritten on the CRM side.
	ConfirmInitial(fields []string) (bool, error)

	// ChooseCandidate asks which candidate belongs to the named
	// address-book contact. Returns the index into candidates, or
	// createNew true to make a fresh CRM contact instead.
	ChooseCandidate(display string, candidates []Candidate) (choice int, createNew bool, err error)

	// ConfirmCreate asks whether to create a CRM contact for an
	// address-book contact that matched nothing.
	ConfirmCreate(display string) (CreateChoice, error)
}
