package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pairsync/pairsync/internal/abook"
	"github.com/pairsync/pairsync/internal/crm"
	"github.com/pairsync/pairsync/internal/store"
)

// CheckItem identifies one remote contact in a check report.
type CheckItem struct {
	ID   string
	Name string
}

// CheckReport is the result of a read-only consistency check.
type CheckReport struct {
	Duration time.Duration

	// Errors counts dangling pairings: one side still exists but its
	// stored counterpart cannot be fetched.
	Errors int

	// Orphaned lists pairings whose both remote sides are gone. Harmless;
	// an initial sync clears them.
	Orphaned []store.Mapping

	// ABookNotSynced and CRMNotSynced list remote contacts that have no
	// pairing at all.
	ABookNotSynced []CheckItem
	CRMNotSynced   []CheckItem

	// CheckedABook and CheckedCRM count the contacts examined per side.
	CheckedABook int
	CheckedCRM   int
}

// Check cross-validates the pairing store against both remote sides.
// It never writes: dangling pairings are reported, not repaired.
func (e *Engine) Check(ctx context.Context) (*CheckReport, error) {
	start := time.Now()
	e.progress("Starting consistency check...")

	mappings, err := e.store.AllMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading mappings: %w", err)
	}
	idx := newIdentityIndex(mappings)

	// The two listings are independent and each touches only its own
	// client, so they can run side by side.
	var (
		aContacts []abook.Contact
		cContacts []crm.Contact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if aContacts, _, err = e.abook.ListContacts(gctx); err != nil {
			return fmt.Errorf("listing address book contacts: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if cContacts, err = e.crm.ListContacts(gctx); err != nil {
			return fmt.Errorf("listing CRM contacts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &CheckReport{
		CheckedABook: len(aContacts),
		CheckedCRM:   len(cContacts),
	}

	for i := range aContacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a := &aContacts[i]
		e.progress("Checking address book contact %d of %d", i+1, len(aContacts))
		display := displayName(a)

		crmID := idx.crmFor(a.ID)
		if crmID == "" {
			report.ABookNotSynced = append(report.ABookNotSynced, CheckItem{ID: a.ID, Name: display})
			continue
		}
		id, err := crm.ParseID(crmID)
		var c *crm.Contact
		if err == nil {
			c, err = e.crm.GetContact(ctx, id)
		}
		if err != nil || c == nil {
			report.Errors++
			e.errorf("%q (%s): wrong id or missing CRM contact for id %q", display, a.ID, crmID)
		}
	}

	for i := range cContacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &cContacts[i]
		e.progress("Checking CRM contact %d of %d", i+1, len(cContacts))

		abookID := idx.abookFor(crm.FormatID(c.ID))
		if abookID == "" {
			report.CRMNotSynced = append(report.CRMNotSynced, CheckItem{ID: crm.FormatID(c.ID), Name: c.CompleteName})
			continue
		}
		a, err := e.abook.GetContact(ctx, abookID)
		if err != nil || a == nil {
			report.Errors++
			e.errorf("%q (%d): wrong id or missing address book contact for id %q", c.CompleteName, c.ID, abookID)
		}
	}

	// A pairing absent from both listings is orphaned: nothing can break,
	// nothing can converge.
	aIDs := make(map[string]bool, len(aContacts))
	for i := range aContacts {
		aIDs[aContacts[i].ID] = true
	}
	cIDs := make(map[string]bool, len(cContacts))
	for i := range cContacts {
		cIDs[crm.FormatID(cContacts[i].ID)] = true
	}
	for _, m := range mappings {
		if !aIDs[m.ABookID] && !cIDs[m.CRMID] {
			report.Orphaned = append(report.Orphaned, m)
		}
	}

	report.Duration = time.Since(start)
	e.logCheckResults(report)
	return report, nil
}

func (e *Engine) logCheckResults(r *CheckReport) {
	if len(r.Orphaned) > 0 {
		e.progress("The following pairings are orphaned:")
		for _, m := range r.Orphaned {
			e.progress("%q <-> %q (%q <-> %q)", m.ABookID, m.CRMID, m.ABookName, m.CRMName)
		}
		e.progress("This doesn't cause sync errors, but an initial sync cleans them up")
	}
	if len(r.ABookNotSynced) == 0 && len(r.CRMNotSynced) == 0 {
		e.progress("All contacts are currently in sync")
	} else if len(r.CRMNotSynced) > 0 {
		e.progress("The following CRM contacts are currently not in sync:")
		for _, item := range r.CRMNotSynced {
			e.progress("%q (%s)", item.Name, item.ID)
		}
		e.progress("A sync back fixes that")
	}
	if len(r.ABookNotSynced) > 0 {
		e.progress("The following address book contacts are currently not in sync:")
		for _, item := range r.ABookNotSynced {
			e.progress("%q (%s)", item.Name, item.ID)
		}
		e.progress("A full sync fixes that")
	}

	if r.Errors > 0 {
		e.progress("Check failed. Consider doing an initial sync again!")
	} else {
		e.progress("Check finished, no critical errors found!")
	}
	e.progress("Non-synced contacts on both sides that match each other are paired by an initial sync.")
}
