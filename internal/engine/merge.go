package engine

import (
	"context"
	"fmt"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
)

// mergeProfile converges the CRM profile of a confirmed pair onto the
// address book data. Both sides are rendered into upload forms; equal
// forms mean nothing to do, otherwise one update call carries the
// address-book-derived form over.
//
// The source form carries no gender, so the first update after a profile
// change resets the CRM gender to the catalog default. That matches the
// longstanding behavior of this sync; the CRM is not authoritative for
// anything the address book carries.
func (e *Engine) mergeProfile(ctx context.Context, genders map[string]int64, a *abook.Contact, c *crm.Contact) error {
	source := crm.NewProfileForm(e.sourceProfileParams(a, c), genders)
	target := crm.NewProfileForm(e.targetProfileParams(c), genders)
	if source == target {
		return nil
	}
	if _, err := e.crm.UpdateContact(ctx, c.ID, source); err != nil {
		return fmt.Errorf("merging %q (%d): %w", c.CompleteName, c.ID, err)
	}
	return nil
}

// sourceProfileParams assembles the authoritative form: names and
// birthday from the address book, deceased info carried over from the
// CRM side (the address book has no notion of it). A nil crmContact,
// as in the creation path, leaves the deceased block empty.
func (e *Engine) sourceProfileParams(a *abook.Contact, crmContact *crm.Contact) crm.ProfileParams {
	first, last := crmNames(a)
	p := crm.ProfileParams{
		FirstName:       first,
		LastName:        last,
		MiddleName:      a.MiddleName,
		Nickname:        a.Nickname,
		CreateReminders: e.opts.CreateReminders,
	}
	if a.Birthday != nil {
		// A birthday without month and day cannot be stored.
		if a.Birthday.Month != 0 && a.Birthday.Day != 0 {
			p.IsBirthdateKnown = true
			p.BirthdateDay = a.Birthday.Day
			p.BirthdateMonth = a.Birthday.Month
			p.BirthdateYear = a.Birthday.Year
		}
	}
	if crmContact != nil {
		p.IsDeceased = crmContact.IsDead
		deceased := crmContact.Information.Dates.DeceasedDate
		if year, month, day, ok := deceased.Parts(); ok {
			p.IsDeceasedDateKnown = true
			p.DeceasedYear = year
			p.DeceasedMonth = month
			p.DeceasedDay = day
		}
		p.DeceasedIsAgeBased = deceased.IsAgeBased
	}
	return p
}

// targetProfileParams renders the CRM contact's current state into the
// same form shape for comparison.
func (e *Engine) targetProfileParams(c *crm.Contact) crm.ProfileParams {
	p := crm.ProfileParams{
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Nickname:        c.Nickname,
		MiddleName:      crmMiddleName(c.FirstName, c.LastName, c.Nickname, c.CompleteName),
		GenderType:      c.GenderType,
		IsDeceased:      c.IsDead,
		CreateReminders: e.opts.CreateReminders,
	}
	birthdate := c.Information.Dates.Birthdate
	if year, month, day, ok := birthdate.Parts(); ok {
		p.IsBirthdateKnown = true
		p.BirthdateDay = day
		p.BirthdateMonth = month
		if !birthdate.IsYearUnknown {
			p.BirthdateYear = year
		}
	}
	deceased := c.Information.Dates.DeceasedDate
	if year, month, day, ok := deceased.Parts(); ok {
		p.IsDeceasedDateKnown = true
		p.DeceasedYear = year
		p.DeceasedMonth = month
		p.DeceasedDay = day
	}
	p.DeceasedIsAgeBased = deceased.IsAgeBased
	return p
}

// createCRMContact makes a new CRM contact from address book data only.
func (e *Engine) createCRMContact(ctx context.Context, genders map[string]int64, a *abook.Contact) (*crm.Contact, error) {
	form := crm.NewProfileForm(e.sourceProfileParams(a, nil), genders)
	contact, err := e.crm.CreateContact(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("creating CRM contact for %q: %w", displayName(a), err)
	}
	return contact, nil
}

// ensureGenders fetches the CRM gender catalog once per run. Without it
// no profile form can be built, so a failure here is fatal for the run
// rather than per contact.
func (e *Engine) ensureGenders(ctx context.Context) (map[string]int64, error) {
	if e.genders != nil {
		return e.genders, nil
	}
	genders, err := e.crm.Genders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gender catalog: %w", err)
	}
	e.genders = genders
	return genders, nil
}
