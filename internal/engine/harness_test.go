package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// fakeABook serves a fixed contact set from memory and records what the
// engine asked of it.
type fakeABook struct {
	contacts []abook.Contact
	cursor   string

	changes       []abook.Contact
	changesCursor string
	cursorExpired bool
	gotCursor     string

	labelNames map[string]string // id -> name

	getErr map[string]error

	listCalls int
	created   int
	nextID    int
}

func (f *fakeABook) ListContacts(ctx context.Context) ([]abook.Contact, string, error) {
	f.listCalls++
	return slices.Clone(f.contacts), f.cursor, nil
}

func (f *fakeABook) ListChanges(ctx context.Context, cursor string) ([]abook.Contact, string, error) {
	f.gotCursor = cursor
	if f.cursorExpired {
		return nil, "", abook.ErrCursorExpired
	}
	return slices.Clone(f.changes), f.changesCursor, nil
}

func (f *fakeABook) GetContact(ctx context.Context, id string) (*abook.Contact, error) {
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	for i := range f.contacts {
		if f.contacts[i].ID == id {
			c := f.contacts[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeABook) CreateContact(ctx context.Context, contact abook.Contact) (*abook.Contact, error) {
	f.nextID++
	contact.ID = fmt.Sprintf("a-new-%d", f.nextID)
	f.contacts = append(f.contacts, contact)
	f.created++
	return &contact, nil
}

func (f *fakeABook) DeleteContact(ctx context.Context, id, name string) error {
	f.contacts = slices.DeleteFunc(f.contacts, func(c abook.Contact) bool { return c.ID == id })
	return nil
}

func (f *fakeABook) LabelID(ctx context.Context, name string, createMissing bool) (string, error) {
	for id, n := range f.labelNames {
		if n == name {
			return id, nil
		}
	}
	if !createMissing {
		return "", nil
	}
	if f.labelNames == nil {
		f.labelNames = make(map[string]string)
	}
	id := "label-" + name
	f.labelNames[id] = name
	return id, nil
}

func (f *fakeABook) LabelName(id string) string {
	if name, ok := f.labelNames[id]; ok {
		return name
	}
	return id
}

func (f *fakeABook) Stats() abook.Stats {
	return abook.Stats{Created: f.created}
}

// fakeCRM keeps contacts and their sub-resources in memory. Every
// mutating call lands in writes so tests can assert idempotence.
type fakeCRM struct {
	contacts map[int64]*crm.Contact
	order    []int64
	fields   map[int64][]crm.ContactField
	notes    map[int64][]crm.Note

	getErr map[int64]error

	// writes logs every mutating call as "op id" in call order.
	writes []string

	nextID      int64
	nextMinorID int64
	listCalls   int
	created     int
	updated     int
	deleted     int
}

func newFakeCRM(contacts ...crm.Contact) *fakeCRM {
	f := &fakeCRM{
		contacts: make(map[int64]*crm.Contact),
		fields:   make(map[int64][]crm.ContactField),
		notes:    make(map[int64][]crm.Note),
		nextID:   1000,
	}
	for i := range contacts {
		c := contacts[i]
		f.contacts[c.ID] = &c
		f.order = append(f.order, c.ID)
	}
	return f
}

func (f *fakeCRM) write(op string, id int64) {
	f.writes = append(f.writes, fmt.Sprintf("%s %d", op, id))
}

func (f *fakeCRM) ListContacts(ctx context.Context) ([]crm.Contact, error) {
	f.listCalls++
	out := make([]crm.Contact, 0, len(f.order))
	for _, id := range f.order {
		if c, ok := f.contacts[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCRM) GetContact(ctx context.Context, id int64) (*crm.Contact, error) {
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	c, ok := f.contacts[id]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

// applyForm folds an uploaded profile back into the stored contact the
// way the real service would.
func applyForm(c *crm.Contact, form crm.ProfileForm) {
	c.FirstName = form.FirstName
	c.LastName = form.LastName
	c.Nickname = form.Nickname
	c.CompleteName = strings.TrimSpace(form.FirstName + " " + strings.TrimSpace(form.MiddleName+" "+form.LastName))
	if form.Nickname != "" {
		c.CompleteName += " (" + form.Nickname + ")"
	}
	if form.IsBirthdateKnown {
		c.Information.Dates.Birthdate = crm.ContactDate{
			Date:          fmt.Sprintf("%04d-%02d-%02dT00:00:00Z", form.BirthdateYear, form.BirthdateMonth, form.BirthdateDay),
			IsYearUnknown: form.BirthdateYear == 0,
		}
	} else {
		c.Information.Dates.Birthdate = crm.ContactDate{}
	}
	c.IsDead = form.IsDeceased
	if form.IsDeceasedDateKnown {
		c.Information.Dates.DeceasedDate = crm.ContactDate{
			Date:       fmt.Sprintf("%04d-%02d-%02dT00:00:00Z", form.DeceasedDateYear, form.DeceasedDateMonth, form.DeceasedDateDay),
			IsAgeBased: form.DeceasedDateIsAgeBased,
		}
	} else {
		c.Information.Dates.DeceasedDate = crm.ContactDate{}
	}
}

func (f *fakeCRM) CreateContact(ctx context.Context, form crm.ProfileForm) (*crm.Contact, error) {
	f.nextID++
	c := &crm.Contact{ID: f.nextID, UpdatedAt: "created"}
	applyForm(c, form)
	f.contacts[c.ID] = c
	f.order = append(f.order, c.ID)
	f.created++
	f.write("create-contact", c.ID)
	copied := *c
	return &copied, nil
}

func (f *fakeCRM) UpdateContact(ctx context.Context, id int64, form crm.ProfileForm) (*crm.Contact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return nil, fmt.Errorf("update contact %d: gone", id)
	}
	applyForm(c, form)
	f.updated++
	c.UpdatedAt = fmt.Sprintf("rev-%d", f.updated)
	f.write("update-contact", id)
	copied := *c
	return &copied, nil
}

func (f *fakeCRM) DeleteContact(ctx context.Context, id int64, name string) error {
	delete(f.contacts, id)
	f.deleted++
	f.write("delete-contact", id)
	return nil
}

func (f *fakeCRM) CreateAddress(ctx context.Context, form crm.AddressForm, name string) error {
	c, ok := f.contacts[form.ContactID]
	if !ok {
		return fmt.Errorf("create address: contact %d gone", form.ContactID)
	}
	f.nextMinorID++
	c.Addresses = append(c.Addresses, crm.Address{
		ID:         f.nextMinorID,
		Name:       form.Name,
		Street:     form.Street,
		City:       form.City,
		Province:   form.Province,
		PostalCode: form.PostalCode,
		Country:    &crm.Country{ISO: form.Country},
	})
	f.write("create-address", form.ContactID)
	return nil
}

func (f *fakeCRM) DeleteAddress(ctx context.Context, addressID, contactID int64, name string) error {
	if c, ok := f.contacts[contactID]; ok {
		c.Addresses = slices.DeleteFunc(c.Addresses, func(a crm.Address) bool { return a.ID == addressID })
	}
	f.write("delete-address", addressID)
	return nil
}

func (f *fakeCRM) Fields(ctx context.Context, contactID int64, name string) ([]crm.ContactField, error) {
	return slices.Clone(f.fields[contactID]), nil
}

func (f *fakeCRM) CreateField(ctx context.Context, form crm.FieldForm, name string) error {
	f.nextMinorID++
	kind := "email"
	if form.TypeID == 2 {
		kind = "phone"
	}
	f.fields[form.ContactID] = append(f.fields[form.ContactID], crm.ContactField{
		ID:      f.nextMinorID,
		Content: form.Data,
		Type:    crm.FieldType{ID: form.TypeID, Type: kind},
	})
	f.write("create-field", form.ContactID)
	return nil
}

func (f *fakeCRM) DeleteField(ctx context.Context, fieldID, contactID int64, name string) error {
	f.fields[contactID] = slices.DeleteFunc(f.fields[contactID], func(cf crm.ContactField) bool { return cf.ID == fieldID })
	f.write("delete-field", fieldID)
	return nil
}

func (f *fakeCRM) FieldTypeID(ctx context.Context, kind string) (int64, error) {
	switch kind {
	case "email":
		return 1, nil
	case "phone":
		return 2, nil
	}
	return 0, fmt.Errorf("no field type %q", kind)
}

func (f *fakeCRM) Notes(ctx context.Context, contactID int64, name string) ([]crm.Note, error) {
	return slices.Clone(f.notes[contactID]), nil
}

func (f *fakeCRM) CreateNote(ctx context.Context, form crm.NoteForm, name string) error {
	f.nextMinorID++
	f.notes[form.ContactID] = append(f.notes[form.ContactID], crm.Note{ID: f.nextMinorID, Body: form.Body})
	f.write("create-note", form.ContactID)
	return nil
}

func (f *fakeCRM) UpdateNote(ctx context.Context, noteID int64, form crm.NoteForm, name string) error {
	for i, note := range f.notes[form.ContactID] {
		if note.ID == noteID {
			f.notes[form.ContactID][i].Body = form.Body
		}
	}
	f.write("update-note", noteID)
	return nil
}

func (f *fakeCRM) DeleteNote(ctx context.Context, noteID, contactID int64, name string) error {
	f.notes[contactID] = slices.DeleteFunc(f.notes[contactID], func(n crm.Note) bool { return n.ID == noteID })
	f.write("delete-note", noteID)
	return nil
}

func (f *fakeCRM) SetLabels(ctx context.Context, contactID int64, names []string, displayName string) error {
	c, ok := f.contacts[contactID]
	if !ok {
		return fmt.Errorf("set labels: contact %d gone", contactID)
	}
	for _, name := range names {
		if slices.ContainsFunc(c.Tags, func(t crm.Tag) bool { return t.Name == name }) {
			continue
		}
		f.nextMinorID++
		c.Tags = append(c.Tags, crm.Tag{ID: f.nextMinorID, Name: name})
	}
	f.write("set-labels", contactID)
	return nil
}

func (f *fakeCRM) RemoveLabels(ctx context.Context, contactID int64, tagIDs []int64, displayName string) error {
	if c, ok := f.contacts[contactID]; ok {
		c.Tags = slices.DeleteFunc(c.Tags, func(t crm.Tag) bool { return slices.Contains(tagIDs, t.ID) })
	}
	f.write("remove-labels", contactID)
	return nil
}

func (f *fakeCRM) UpdateCareer(ctx context.Context, contactID int64, career crm.Career, name string) error {
	c, ok := f.contacts[contactID]
	if !ok {
		return fmt.Errorf("update career: contact %d gone", contactID)
	}
	c.Information.Career = career
	f.write("update-career", contactID)
	return nil
}

func (f *fakeCRM) Genders(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"M": 1, "F": 2, "O": 3}, nil
}

func (f *fakeCRM) Stats() crm.Stats {
	return crm.Stats{Created: f.created, Updated: f.updated, Deleted: f.deleted}
}

// scriptPort is a DecisionPort with canned answers. Unexpected prompts
// fail the test; every prompt shown is recorded for assertions.
type scriptPort struct {
	t *testing.T

	initialAnswer bool

	chooseAnswers []chooseAnswer
	choosePrompts []choosePrompt

	createAnswers []CreateChoice
	createPrompts []string
}

type chooseAnswer struct {
	choice    int
	createNew bool
}

type choosePrompt struct {
	display    string
	candidates []Candidate
}

func newScriptPort(t *testing.T) *scriptPort {
	return &scriptPort{t: t, initialAnswer: true}
}

func (p *scriptPort) ConfirmInitial(fields []string) (bool, error) {
	return p.initialAnswer, nil
}

func (p *scriptPort) ChooseCandidate(display string, candidates []Candidate) (int, bool, error) {
	p.choosePrompts = append(p.choosePrompts, choosePrompt{display: display, candidates: candidates})
	if len(p.chooseAnswers) == 0 {
		p.t.Fatalf("unexpected candidate prompt for %q: %v", display, candidates)
	}
	answer := p.chooseAnswers[0]
	p.chooseAnswers = p.chooseAnswers[1:]
	return answer.choice, answer.createNew, nil
}

func (p *scriptPort) ConfirmCreate(display string) (CreateChoice, error) {
	p.createPrompts = append(p.createPrompts, display)
	if len(p.createAnswers) == 0 {
		p.t.Fatalf("unexpected creation prompt for %q", display)
	}
	answer := p.createAnswers[0]
	p.createAnswers = p.createAnswers[1:]
	return answer, nil
}

// noPort fails the test on any interactive prompt.
type noPort struct{ t *testing.T }

func (p noPort) ConfirmInitial([]string) (bool, error) { return true, nil }

func (p noPort) ChooseCandidate(display string, candidates []Candidate) (int, bool, error) {
	p.t.Fatalf("unexpected candidate prompt for %q", display)
	return 0, false, nil
}

func (p noPort) ConfirmCreate(display string) (CreateChoice, error) {
	p.t.Fatalf("unexpected creation prompt for %q", display)
	return CreateNo, nil
}

var allFields = []string{"career", "address", "phone", "email", "labels", "notes"}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestEngine(t *testing.T, st store.Store, ab AddressBook, cr CRM, port DecisionPort, opts Options) *Engine {
	t.Helper()
	if opts.Fields == nil {
		opts.Fields = allFields
	}
	return New(st, ab, cr, port, nil, opts)
}

func mustInsert(t *testing.T, st store.Store, m store.Mapping) {
	t.Helper()
	if err := st.Insert(context.Background(), m); err != nil {
		t.Fatalf("inserting mapping: %v", err)
	}
}

func findMapping(t *testing.T, st store.Store, abookID string) *store.Mapping {
	t.Helper()
	m, err := st.FindByABookID(context.Background(), abookID)
	if err != nil {
		t.Fatalf("finding mapping for %q: %v", abookID, err)
	}
	return m
}
