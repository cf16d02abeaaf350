package engine

import (
	"context"
	"fmt"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// SyncBack carries CRM contacts that have no pairing over to the address
// book. Each gets a newly created address book contact and a stampless
// pairing row; the next full sync merges them like any other pair.
// Creation failures skip the contact, it stays lonely until the next
// sync back.
func (e *Engine) SyncBack(ctx context.Context) error {
	idx, err := e.loadIndex(ctx)
	if err != nil {
		return err
	}
	e.progress("Starting sync back...")
	contacts, err := e.crm.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing CRM contacts: %w", err)
	}

	for i := range contacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.progress("Processing CRM contact %d of %d", i+1, len(contacts))
		c := &contacts[i]
		if idx.hasCRM(crm.FormatID(c.ID)) {
			continue
		}

		payload, err := e.abookContactFrom(ctx, c)
		if err != nil {
			e.warn("%q (%d): building address book contact failed, skipping: %v", c.CompleteName, c.ID, err)
			continue
		}
		created, err := e.abook.CreateContact(ctx, *payload)
		if err != nil {
			e.warn("%q (%d): creating address book contact failed, skipping: %v", c.CompleteName, c.ID, err)
			continue
		}
		display := displayName(created)
		e.progress("%q (%s): new address book contact created (sync back)", display, created.ID)

		m := store.Mapping{
			ABookID:   created.ID,
			CRMID:     crm.FormatID(c.ID),
			ABookName: display,
			CRMName:   c.CompleteName,
		}
		if err := e.store.Insert(ctx, m); err != nil {
			return fmt.Errorf("storing pairing %q <-> %q: %w", m.ABookID, m.CRMID, err)
		}
		idx.add(m.ABookID, m.CRMID)
		e.progress("%q <-> %q: new sync connection added", m.ABookID, m.CRMID)
	}

	if e.abook.Stats().Created == 0 {
		e.progress("No contacts for sync back found")
	}
	e.progress("Sync back finished!")
	return nil
}

// abookContactFrom renders a CRM contact as an address book create
// payload, honoring the configured field groups. Age-based birthdays
// cannot be represented and are dropped.
func (e *Engine) abookContactFrom(ctx context.Context, c *crm.Contact) (*abook.Contact, error) {
	out := &abook.Contact{
		GivenName:  c.FirstName,
		FamilyName: c.LastName,
		MiddleName: crmMiddleName(c.FirstName, c.LastName, c.Nickname, c.CompleteName),
	}

	birthdate := c.Information.Dates.Birthdate
	if year, month, day, ok := birthdate.Parts(); ok && !birthdate.IsAgeBased {
		date := &abook.Date{Month: month, Day: day}
		if !birthdate.IsYearUnknown {
			date.Year = year
		}
		out.Birthday = date
	}

	if e.fields["career"] {
		career := c.Information.Career
		if career.Job != "" || career.Company != "" {
			out.Org = &abook.Organization{Company: career.Company, Title: career.Job}
		}
	}

	if e.fields["address"] {
		for i := range c.Addresses {
			addr := &c.Addresses[i]
			out.Addresses = append(out.Addresses, abook.Address{
				Type:        addr.Name,
				Street:      addr.Street,
				City:        addr.City,
				Region:      addr.Province,
				PostalCode:  addr.PostalCode,
				CountryCode: addr.CountryISO(),
			})
		}
	}

	if e.fields["phone"] || e.fields["email"] {
		fields, err := e.crm.Fields(ctx, c.ID, c.CompleteName)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			switch {
			case f.Type.Type == "email" && e.fields["email"]:
				out.Emails = append(out.Emails, abook.Email{Value: f.Content, Type: "other"})
			case f.Type.Type == "phone" && e.fields["phone"]:
				out.Phones = append(out.Phones, abook.Phone{Value: f.Content, Type: "other"})
			}
		}
	}

	if e.fields["labels"] {
		for _, tag := range c.Tags {
			id, err := e.abook.LabelID(ctx, tag.Name, true)
			if err != nil {
				return nil, err
			}
			out.LabelIDs = append(out.LabelIDs, id)
		}
	}
	return out, nil
}
