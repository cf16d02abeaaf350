package engine

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
)

// noteMarker tags CRM notes owned by the sync. Notes without it are
// user-written and never touched.
const noteMarker = "\n\n*This note is synced from your address book. Do not edit here.*"

// syncDetails pushes the non-profile field groups onto the CRM contact.
// Each group fails soft: the first error inside a group logs a warning
// and the remaining groups still run.
func (e *Engine) syncDetails(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	if e.fields["career"] {
		e.syncCareer(ctx, a, c)
	}
	if e.fields["address"] {
		e.syncAddresses(ctx, a, c)
	}
	if e.fields["phone"] || e.fields["email"] {
		e.syncContactFields(ctx, a, c)
	}
	if e.fields["labels"] {
		e.syncLabels(ctx, a, c)
	}
	if e.fields["notes"] {
		e.syncNotes(ctx, a, c)
	}
}

func (e *Engine) syncCareer(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	current := c.Information.Career
	if a.Org == nil && current.Job == "" && current.Company == "" {
		return
	}
	var desired crm.Career
	if a.Org != nil {
		desired.Job = strings.TrimSpace(a.Org.Title)
		company := strings.TrimSpace(a.Org.Company)
		department := strings.TrimSpace(a.Org.Department)
		if department != "" {
			department = "; " + department
		}
		desired.Company = company + department
	}
	if desired == current {
		return
	}
	if err := e.crm.UpdateCareer(ctx, c.ID, desired, c.CompleteName); err != nil {
		e.warn("%q (%d): updating career: %v", c.CompleteName, c.ID, err)
	}
}

func (e *Engine) syncAddresses(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	desired := e.addressForms(a, c.ID)

	if len(desired) == 0 {
		for i := range c.Addresses {
			if err := e.crm.DeleteAddress(ctx, c.Addresses[i].ID, c.ID, c.CompleteName); err != nil {
				e.warn("%q (%d): updating addresses: %v", c.CompleteName, c.ID, err)
				return
			}
		}
		return
	}

	current := make([]crm.AddressForm, 0, len(c.Addresses))
	for i := range c.Addresses {
		addr := &c.Addresses[i]
		current = append(current, crm.AddressForm{
			Name:       addr.Name,
			Street:     addr.Street,
			City:       addr.City,
			Province:   addr.Province,
			PostalCode: addr.PostalCode,
			Country:    addr.CountryISO(),
			ContactID:  c.ID,
		})
	}

	// Every wanted address already present means nothing to do; extra
	// CRM-only addresses survive.
	missing := false
	for _, want := range desired {
		if !slices.Contains(current, want) {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	// Recreating from scratch beats diffing against addresses that have
	// no stable identity across the two sides.
	for i := range c.Addresses {
		if err := e.crm.DeleteAddress(ctx, c.Addresses[i].ID, c.ID, c.CompleteName); err != nil {
			e.warn("%q (%d): updating addresses: %v", c.CompleteName, c.ID, err)
			return
		}
	}
	for _, form := range desired {
		if err := e.crm.CreateAddress(ctx, form, c.CompleteName); err != nil {
			e.warn("%q (%d): updating addresses: %v", c.CompleteName, c.ID, err)
			return
		}
	}
}

// addressForms renders the address book contact's addresses as CRM create
// payloads. Addresses with no content beyond the type label are skipped.
func (e *Engine) addressForms(a *abook.Contact, contactID int64) []crm.AddressForm {
	forms := make([]crm.AddressForm, 0, len(a.Addresses))
	for _, addr := range a.Addresses {
		street := strings.TrimSpace(strings.ReplaceAll(addr.Street, "\n", " "))
		if e.opts.StreetReversal {
			street = e.reverseStreet(street)
		}
		city := strings.TrimSpace(addr.City + " " + addr.Extended)
		if street == "" && city == "" && addr.Region == "" && addr.PostalCode == "" && addr.CountryCode == "" {
			continue
		}
		name := addr.Type
		if name == "" {
			name = "Other"
		}
		forms = append(forms, crm.AddressForm{
			Name:       name,
			Street:     street,
			City:       city,
			Province:   addr.Region,
			PostalCode: addr.PostalCode,
			Country:    addr.CountryCode,
			ContactID:  contactID,
		})
	}
	return forms
}

// reverseStreet turns "13 Auenweg" into "Auenweg 13". Streets not
// starting with a digit pass through untouched.
func (e *Engine) reverseStreet(street string) string {
	runes := []rune(street)
	if len(runes) == 0 || !unicode.IsDigit(runes[0]) {
		return street
	}
	i := strings.Index(street, " ")
	if i < 0 {
		e.warn("street reversal failed for %q", street)
		return street
	}
	return strings.TrimSpace(street[i+1:] + " " + street[:i])
}

func (e *Engine) syncContactFields(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	fields, err := e.crm.Fields(ctx, c.ID, c.CompleteName)
	if err != nil {
		e.warn("%q (%d): fetching contact fields: %v", c.CompleteName, c.ID, err)
		return
	}
	if e.fields["email"] {
		values := make([]string, 0, len(a.Emails))
		for _, email := range a.Emails {
			values = append(values, strings.TrimSpace(email.Value))
		}
		e.syncFieldKind(ctx, c, fields, "email", values)
	}
	if e.fields["phone"] {
		values := make([]string, 0, len(a.Phones))
		for _, phone := range a.Phones {
			values = append(values, strings.TrimSpace(phone.Value))
		}
		e.syncFieldKind(ctx, c, fields, "phone", values)
	}
}

// syncFieldKind reconciles one contact field kind. Values are matched by
// exact content; anything CRM-side the address book no longer carries is
// deleted, anything new is created.
func (e *Engine) syncFieldKind(ctx context.Context, c *crm.Contact, fields []crm.ContactField, kind string, values []string) {
	var current []crm.ContactField
	for _, f := range fields {
		if f.Type.Type == kind {
			current = append(current, f)
		}
	}

	if len(values) == 0 {
		for _, f := range current {
			if err := e.crm.DeleteField(ctx, f.ID, c.ID, c.CompleteName); err != nil {
				e.warn("%q (%d): updating %s fields: %v", c.CompleteName, c.ID, kind, err)
				return
			}
		}
		return
	}

	typeID, err := e.crm.FieldTypeID(ctx, kind)
	if err != nil {
		e.warn("%q (%d): updating %s fields: %v", c.CompleteName, c.ID, kind, err)
		return
	}

	currentValues := make([]string, 0, len(current))
	for _, f := range current {
		currentValues = append(currentValues, f.Content)
	}
	for _, f := range current {
		if slices.Contains(values, f.Content) {
			continue
		}
		if err := e.crm.DeleteField(ctx, f.ID, c.ID, c.CompleteName); err != nil {
			e.warn("%q (%d): updating %s fields: %v", c.CompleteName, c.ID, kind, err)
			return
		}
	}
	for _, value := range values {
		if slices.Contains(currentValues, value) {
			continue
		}
		form := crm.FieldForm{ContactID: c.ID, Data: value, TypeID: typeID}
		if err := e.crm.CreateField(ctx, form, c.CompleteName); err != nil {
			e.warn("%q (%d): updating %s fields: %v", c.CompleteName, c.ID, kind, err)
			return
		}
	}
}

func (e *Engine) syncLabels(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	names := make([]string, 0, len(a.LabelIDs))
	for _, id := range a.LabelIDs {
		names = append(names, e.abook.LabelName(id))
	}

	// Drop CRM tags the address book contact no longer carries.
	var remove []int64
	var kept []string
	for _, tag := range c.Tags {
		if slices.Contains(names, tag.Name) {
			kept = append(kept, tag.Name)
		} else {
			remove = append(remove, tag.ID)
		}
	}
	if len(remove) > 0 {
		if err := e.crm.RemoveLabels(ctx, c.ID, remove, c.CompleteName); err != nil {
			e.warn("%q (%d): updating labels: %v", c.CompleteName, c.ID, err)
			return
		}
	}

	if !equalSorted(names, kept) {
		if err := e.crm.SetLabels(ctx, c.ID, names, c.CompleteName); err != nil {
			e.warn("%q (%d): updating labels: %v", c.CompleteName, c.ID, err)
		}
	}
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func (e *Engine) syncNotes(ctx context.Context, a *abook.Contact, c *crm.Contact) {
	notes, err := e.crm.Notes(ctx, c.ID, c.CompleteName)
	if err != nil {
		e.warn("%q (%d): fetching notes: %v", c.CompleteName, c.ID, err)
		return
	}

	body := strings.TrimSpace(a.Note)
	if body == "" {
		// Nothing on the address book side: drop the synced note if one
		// exists, leave user-written notes alone.
		for _, note := range notes {
			if strings.Contains(note.Body, noteMarker) {
				if err := e.crm.DeleteNote(ctx, note.ID, c.ID, c.CompleteName); err != nil {
					e.warn("%q (%d): deleting note: %v", c.CompleteName, c.ID, err)
				}
				return
			}
		}
		return
	}

	// Markdown needs two trailing spaces for a line break.
	body = strings.ReplaceAll(body, "\n", "  \n")
	tagged := body + noteMarker

	for _, note := range notes {
		if note.Body == body {
			// Same content without the marker yet: adopt the note.
			form := crm.NoteForm{Body: tagged, ContactID: c.ID}
			if err := e.crm.UpdateNote(ctx, note.ID, form, c.CompleteName); err != nil {
				e.warn("%q (%d): updating note: %v", c.CompleteName, c.ID, err)
			}
			return
		}
		if strings.Contains(note.Body, noteMarker) {
			if note.Body != tagged {
				form := crm.NoteForm{Body: tagged, ContactID: c.ID}
				if err := e.crm.UpdateNote(ctx, note.ID, form, c.CompleteName); err != nil {
					e.warn("%q (%d): updating note: %v", c.CompleteName, c.ID, err)
				}
			}
			return
		}
	}
	form := crm.NoteForm{Body: tagged, ContactID: c.ID}
	if err := e.crm.CreateNote(ctx, form, c.CompleteName); err != nil {
		e.warn("%q (%d): creating note: %v", c.CompleteName, c.ID, err)
	}
}
