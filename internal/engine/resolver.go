package engine

import (
	"context"
	"fmt"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// pairingFor builds the stampless row the resolver writes: names only,
// no revision stamps, so the following full sync cannot skip the pair.
func pairingFor(abookID, abookName string, c *crm.Contact) store.Mapping {
	return store.Mapping{
		ABookID:   abookID,
		CRMID:     crm.FormatID(c.ID),
		ABookName: abookName,
		CRMName:   c.CompleteName,
	}
}

// buildMatches pairs every address book contact with a CRM counterpart:
// first a non-interactive pass over exact name matches, then an
// interactive pass for everything left over. Rows written here carry no
// revision stamps, so the full sync that follows processes every pair.
func (e *Engine) buildMatches(ctx context.Context, idx *identityIndex) error {
	e.progress("Building sync mappings...")
	aContacts, _, err := e.abook.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing address book contacts: %w", err)
	}
	cContacts, err := e.crm.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("listing CRM contacts: %w", err)
	}

	var conflicts []*abook.Contact
	for i := range aContacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.progress("Processing address book contact %d of %d", i+1, len(aContacts))
		matched, err := e.matchExact(ctx, idx, &aContacts[i], cContacts)
		if err != nil {
			return err
		}
		if !matched {
			conflicts = append(conflicts, &aContacts[i])
		}
	}

	if len(conflicts) > 0 {
		e.progress("Found %d possible conflicts, starting resolving procedure...", len(conflicts))
	}
	for _, a := range conflicts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.resolveConflict(ctx, idx, a, cContacts); err != nil {
			return err
		}
	}
	e.progress("Sync mappings built!")
	return nil
}

// matchExact pairs a contact when exactly one unassigned CRM contact
// matches it by name. Zero or several matches leave the contact for the
// interactive pass; ambiguity is never resolved automatically.
func (e *Engine) matchExact(ctx context.Context, idx *identityIndex, a *abook.Contact, cContacts []crm.Contact) (bool, error) {
	display := displayName(a)
	var hit *crm.Contact
	matches := 0
	for i := range cContacts {
		c := &cContacts[i]
		if idx.hasCRM(crm.FormatID(c.ID)) {
			continue
		}
		if nameMatches(a, display, c) {
			hit = c
			matches++
		}
	}
	if matches != 1 {
		return false, nil
	}

	m := pairingFor(a.ID, display, hit)
	if err := e.store.Insert(ctx, m); err != nil {
		return false, fmt.Errorf("storing pairing %q <-> %q: %w", m.ABookID, m.CRMID, err)
	}
	idx.add(m.ABookID, m.CRMID)
	return true, nil
}

// nameMatches reports whether an address book contact and a CRM contact
// carry the same name. Stripping honorifics for the second check is a
// heuristic: two different people can share the stripped name, which is
// why only a unique match pairs automatically.
func nameMatches(a *abook.Contact, display string, c *crm.Contact) bool {
	if normEq(display, c.CompleteName) {
		return true
	}
	if a.GivenName != "" && a.FamilyName != "" && normEq(a.GivenName+" "+a.FamilyName, c.CompleteName) {
		return true
	}
	middle := crmMiddleName(c.FirstName, c.LastName, c.Nickname, c.CompleteName)
	return normEq(c.FirstName, a.GivenName) && normEq(middle, a.MiddleName) && normEq(c.LastName, a.FamilyName)
}

// resolveConflict settles one unmatched contact through the decision
// port: pick one of the loosely matching CRM candidates, or create a new
// CRM contact. Creation failures here abort the initial sync; skipping
// would leave a silent hole in the mapping.
func (e *Engine) resolveConflict(ctx context.Context, idx *identityIndex, a *abook.Contact, cContacts []crm.Contact) error {
	display := displayName(a)

	var candidates []Candidate
	var byIndex []*crm.Contact
	for i := range cContacts {
		c := &cContacts[i]
		if idx.hasCRM(crm.FormatID(c.ID)) {
			continue
		}
		firstHit := a.GivenName != "" && normEq(c.FirstName, a.GivenName)
		lastHit := a.FamilyName != "" && normEq(c.LastName, a.FamilyName)
		if firstHit || lastHit {
			candidates = append(candidates, Candidate{ID: c.ID, Name: c.CompleteName})
			byIndex = append(byIndex, c)
		}
	}

	if len(candidates) > 0 {
		choice, createNew, err := e.port.ChooseCandidate(display, candidates)
		if err != nil {
			return err
		}
		if !createNew {
			if choice < 0 || choice >= len(candidates) {
				return fmt.Errorf("candidate choice %d out of range for %q", choice, display)
			}
			m := pairingFor(a.ID, display, byIndex[choice])
			if err := e.store.Insert(ctx, m); err != nil {
				return fmt.Errorf("storing pairing %q <-> %q: %w", m.ABookID, m.CRMID, err)
			}
			idx.add(m.ABookID, m.CRMID)
			e.progress("%q <-> %q: new sync connection added", m.ABookID, m.CRMID)
			return nil
		}
	} else if !e.skipCreationPrompt {
		choice, err := e.port.ConfirmCreate(display)
		if err != nil {
			return err
		}
		switch choice {
		case CreateNo:
			return ErrAborted
		case CreateYesToAll:
			e.skipCreationPrompt = true
		}
	}

	genders, err := e.ensureGenders(ctx)
	if err != nil {
		return err
	}
	c, err := e.createCRMContact(ctx, genders, a)
	if err != nil {
		return err
	}
	e.progress("Conflict resolved: %q (%d): new CRM contact created", display, c.ID)

	m := pairingFor(a.ID, display, c)
	if err := e.store.Insert(ctx, m); err != nil {
		return fmt.Errorf("storing pairing %q <-> %q: %w", m.ABookID, m.CRMID, err)
	}
	idx.add(m.ABookID, m.CRMID)
	e.progress("Conflict resolved: %q <-> %q: new sync connection added", m.ABookID, m.CRMID)
	return nil
}
