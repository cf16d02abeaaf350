package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
)

func detailsEngine(t *testing.T, fc *fakeCRM, opts Options) *Engine {
	t.Helper()
	return newTestEngine(t, nil, &fakeABook{labelNames: map[string]string{
		"l1": "Friends",
		"l2": "Family",
	}}, fc, noPort{t: t}, opts)
}

func crmContact(fc *fakeCRM, id int64) *crm.Contact {
	c, _ := fc.GetContact(context.Background(), id)
	return c
}

func TestSyncCareerUpdatesOnDifference(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Org: &abook.Organization{Company: "Initech", Department: "TPS", Title: "Engineer"}}

	e.syncCareer(context.Background(), a, crmContact(fc, 1))
	career := fc.contacts[1].Information.Career
	if career.Company != "Initech; TPS" || career.Job != "Engineer" {
		t.Errorf("career = %+v, want Initech; TPS / Engineer", career)
	}

	// Converged now; a second pass must not call out.
	writes := len(fc.writes)
	e.syncCareer(context.Background(), a, crmContact(fc, 1))
	if len(fc.writes) != writes {
		t.Errorf("second career sync wrote %v", fc.writes[writes:])
	}
}

func TestSyncCareerNoopWhenBothEmpty(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	e := detailsEngine(t, fc, Options{})

	e.syncCareer(context.Background(), &abook.Contact{}, crmContact(fc, 1))
	if len(fc.writes) != 0 {
		t.Errorf("writes = %v, want none", fc.writes)
	}
}

func TestSyncAddressesNoopWhenAllPresent(t *testing.T) {
	fc := newFakeCRM(crm.Contact{
		ID: 1, CompleteName: "Jane Doe",
		Addresses: []crm.Address{
			{ID: 10, Name: "Home", Street: "Auenweg 13", City: "Cologne", PostalCode: "51063", Country: &crm.Country{ISO: "DE"}},
			{ID: 11, Name: "Cabin", Street: "Forest 1", Country: &crm.Country{ISO: "NO"}},
		},
	})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Addresses: []abook.Address{
		{Type: "Home", Street: "Auenweg 13", City: "Cologne", PostalCode: "51063", CountryCode: "DE"},
	}}

	// The single wanted address exists verbatim; the extra CRM-only cabin
	// address survives untouched.
	e.syncAddresses(context.Background(), a, crmContact(fc, 1))
	if len(fc.writes) != 0 {
		t.Errorf("writes = %v, want none", fc.writes)
	}
	if len(fc.contacts[1].Addresses) != 2 {
		t.Errorf("addresses = %+v, want both kept", fc.contacts[1].Addresses)
	}
}

func TestSyncAddressesReplacesOnDifference(t *testing.T) {
	fc := newFakeCRM(crm.Contact{
		ID: 1, CompleteName: "Jane Doe",
		Addresses: []crm.Address{{ID: 10, Name: "Home", Street: "Old Street 1", Country: &crm.Country{ISO: "DE"}}},
	})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Addresses: []abook.Address{
		{Type: "Home", Street: "New Street 2", City: "Cologne", CountryCode: "DE"},
	}}

	e.syncAddresses(context.Background(), a, crmContact(fc, 1))
	addrs := fc.contacts[1].Addresses
	if len(addrs) != 1 || addrs[0].Street != "New Street 2" {
		t.Errorf("addresses = %+v, want the one new address", addrs)
	}
}

func TestSyncAddressesEmptySourceDeletesAll(t *testing.T) {
	fc := newFakeCRM(crm.Contact{
		ID: 1, CompleteName: "Jane Doe",
		Addresses: []crm.Address{{ID: 10, Name: "Home", Street: "Old Street 1"}},
	})
	e := detailsEngine(t, fc, Options{})

	e.syncAddresses(context.Background(), &abook.Contact{}, crmContact(fc, 1))
	if len(fc.contacts[1].Addresses) != 0 {
		t.Errorf("addresses = %+v, want none", fc.contacts[1].Addresses)
	}
}

func TestSyncAddressesSkipsEmptyAndDefaultsLabel(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Addresses: []abook.Address{
		{Type: "Home"}, // nothing but a label: skipped
		{Street: "Somewhere 5"},
	}}

	e.syncAddresses(context.Background(), a, crmContact(fc, 1))
	addrs := fc.contacts[1].Addresses
	if len(addrs) != 1 || addrs[0].Name != "Other" || addrs[0].Street != "Somewhere 5" {
		t.Errorf("addresses = %+v, want one 'Other' address", addrs)
	}
}

func TestReverseStreet(t *testing.T) {
	e := detailsEngine(t, newFakeCRM(), Options{StreetReversal: true})
	tests := []struct{ in, want string }{
		{"13 Auenweg", "Auenweg 13"},
		{"13a Auenweg", "Auenweg 13a"},
		{"Auenweg 13", "Auenweg 13"}, // already house-number-last
		{"42", "42"},                 // nothing to swap
		{"", ""},
	}
	for _, tt := range tests {
		if got := e.reverseStreet(tt.in); got != tt.want {
			t.Errorf("reverseStreet(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSyncContactFieldsConverges(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	fc.fields[1] = []crm.ContactField{
		{ID: 100, Content: "old@example.com", Type: crm.FieldType{ID: 1, Type: "email"}},
		{ID: 101, Content: "+49151", Type: crm.FieldType{ID: 2, Type: "phone"}},
	}
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{
		Emails: []abook.Email{{Value: "new@example.com"}},
		Phones: []abook.Phone{{Value: "+49151"}},
	}

	e.syncContactFields(context.Background(), a, crmContact(fc, 1))

	var emails, phones []string
	for _, f := range fc.fields[1] {
		if f.Type.Type == "email" {
			emails = append(emails, f.Content)
		} else {
			phones = append(phones, f.Content)
		}
	}
	if len(emails) != 1 || emails[0] != "new@example.com" {
		t.Errorf("emails = %v, want only new@example.com", emails)
	}
	if len(phones) != 1 || phones[0] != "+49151" {
		t.Errorf("phones = %v, want +49151 untouched", phones)
	}

	// Converged; second pass issues nothing.
	writes := len(fc.writes)
	e.syncContactFields(context.Background(), a, crmContact(fc, 1))
	if len(fc.writes) != writes {
		t.Errorf("second field sync wrote %v", fc.writes[writes:])
	}
}

func TestSyncContactFieldsEmptySourceDeletes(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	fc.fields[1] = []crm.ContactField{
		{ID: 100, Content: "old@example.com", Type: crm.FieldType{ID: 1, Type: "email"}},
	}
	e := detailsEngine(t, fc, Options{})

	e.syncContactFields(context.Background(), &abook.Contact{}, crmContact(fc, 1))
	if len(fc.fields[1]) != 0 {
		t.Errorf("fields = %+v, want none", fc.fields[1])
	}
}

func TestSyncLabelsRemovesAndAdds(t *testing.T) {
	fc := newFakeCRM(crm.Contact{
		ID: 1, CompleteName: "Jane Doe",
		Tags: []crm.Tag{{ID: 7, Name: "Friends"}, {ID: 8, Name: "Archive"}},
	})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{LabelIDs: []string{"l1", "l2"}} // Friends, Family

	e.syncLabels(context.Background(), a, crmContact(fc, 1))

	var names []string
	for _, tag := range fc.contacts[1].Tags {
		names = append(names, tag.Name)
	}
	want := map[string]bool{"Friends": true, "Family": true}
	if len(names) != 2 || !want[names[0]] || !want[names[1]] {
		t.Errorf("tags = %v, want Friends+Family", names)
	}

	// At most one remove and one set call.
	removes, sets := 0, 0
	for _, w := range fc.writes {
		if strings.HasPrefix(w, "remove-labels") {
			removes++
		}
		if strings.HasPrefix(w, "set-labels") {
			sets++
		}
	}
	if removes != 1 || sets != 1 {
		t.Errorf("remove/set calls = %d/%d, want 1/1", removes, sets)
	}
}

func TestSyncLabelsNoopWhenEqual(t *testing.T) {
	fc := newFakeCRM(crm.Contact{
		ID: 1, CompleteName: "Jane Doe",
		Tags: []crm.Tag{{ID: 7, Name: "Friends"}},
	})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{LabelIDs: []string{"l1"}}

	e.syncLabels(context.Background(), a, crmContact(fc, 1))
	if len(fc.writes) != 0 {
		t.Errorf("writes = %v, want none", fc.writes)
	}
}

func TestSyncNotesCreatesMarkedNote(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Note: "Met at the conference.\nLikes tea."}

	e.syncNotes(context.Background(), a, crmContact(fc, 1))
	notes := fc.notes[1]
	if len(notes) != 1 {
		t.Fatalf("notes = %+v, want one", notes)
	}
	if !strings.Contains(notes[0].Body, noteMarker) {
		t.Error("synced note carries no ownership marker")
	}
	if !strings.Contains(notes[0].Body, "Met at the conference.  \nLikes tea.") {
		t.Errorf("note body = %q, want markdown hard breaks", notes[0].Body)
	}

	// Unchanged source: no second write.
	writes := len(fc.writes)
	e.syncNotes(context.Background(), a, crmContact(fc, 1))
	if len(fc.writes) != writes {
		t.Errorf("second notes sync wrote %v", fc.writes[writes:])
	}
}

func TestSyncNotesAdoptsIdenticalUnmarkedNote(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	fc.notes[1] = []crm.Note{{ID: 50, Body: "Likes tea."}}
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Note: "Likes tea."}

	e.syncNotes(context.Background(), a, crmContact(fc, 1))
	notes := fc.notes[1]
	if len(notes) != 1 || notes[0].ID != 50 {
		t.Fatalf("notes = %+v, want the adopted note 50", notes)
	}
	if !strings.Contains(notes[0].Body, noteMarker) {
		t.Error("adopted note carries no marker")
	}
}

func TestSyncNotesUpdatesChangedMarkedNote(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	fc.notes[1] = []crm.Note{
		{ID: 50, Body: "User note, hands off."},
		{ID: 51, Body: "Old synced text." + noteMarker},
	}
	e := detailsEngine(t, fc, Options{})
	a := &abook.Contact{Note: "New synced text."}

	e.syncNotes(context.Background(), a, crmContact(fc, 1))
	notes := fc.notes[1]
	if len(notes) != 2 {
		t.Fatalf("notes = %+v, want two", notes)
	}
	if notes[0].Body != "User note, hands off." {
		t.Errorf("user note touched: %q", notes[0].Body)
	}
	if !strings.Contains(notes[1].Body, "New synced text.") {
		t.Errorf("marked note body = %q, want new text", notes[1].Body)
	}
}

func TestSyncNotesDeletesMarkedNoteWhenSourceEmpty(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	fc.notes[1] = []crm.Note{
		{ID: 50, Body: "User note."},
		{ID: 51, Body: "Synced text." + noteMarker},
	}
	e := detailsEngine(t, fc, Options{})

	e.syncNotes(context.Background(), &abook.Contact{}, crmContact(fc, 1))
	notes := fc.notes[1]
	if len(notes) != 1 || notes[0].ID != 50 {
		t.Errorf("notes = %+v, want only the user note", notes)
	}
}

func TestSyncDetailsHonorsFieldSelection(t *testing.T) {
	fc := newFakeCRM(crm.Contact{ID: 1, CompleteName: "Jane Doe"})
	e := newTestEngine(t, nil, &fakeABook{}, fc, noPort{t: t}, Options{Fields: []string{"career"}})
	a := &abook.Contact{
		Org:  &abook.Organization{Company: "Initech"},
		Note: "Should not be synced.",
		Emails: []abook.Email{
			{Value: "jane@example.com"},
		},
	}

	e.syncDetails(context.Background(), a, crmContact(fc, 1))
	for _, w := range fc.writes {
		if !strings.HasPrefix(w, "update-career") {
			t.Errorf("unexpected write %q with only career selected", w)
		}
	}
	if len(fc.notes[1]) != 0 || len(fc.fields[1]) != 0 {
		t.Error("deselected field groups were synced")
	}
}
