package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/pairsync/pairsync/internal/engine"
)

// Port answers the engine's interactive questions with terminal forms.
// With AssumeYes set, confirmations resolve without prompting; candidate
// selection still asks, since no flag can settle a genuine ambiguity.
type Port struct {
	AssumeYes bool
}

var _ engine.DecisionPort = (*Port)(nil)

// ConfirmInitial warns that the following full sync overwrites the
// listed CRM detail groups and asks whether to proceed.
func (p *Port) ConfirmInitial(fields []string) (bool, error) {
	if p.AssumeYes {
		return true, nil
	}
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Start the full sync?").
			Description(fmt.Sprintf(
				"Matching is done. The sync that follows overwrites these CRM details:\n%s",
				strings.Join(fields, ", "))).
			Affirmative("Sync").
			Negative("Abort").
			Value(&ok),
	))
	if err := form.Run(); err != nil {
		return false, portErr(err)
	}
	return ok, nil
}

// ChooseCandidate presents the CRM candidates for one address book
// contact, plus the option to create a fresh contact instead.
func (p *Port) ChooseCandidate(display string, candidates []engine.Candidate) (int, bool, error) {
	const createNew = -1
	opts := make([]huh.Option[int], 0, len(candidates)+1)
	for i, c := range candidates {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%d)", c.Name, c.ID), i))
	}
	opts = append(opts, huh.NewOption("Create a new CRM contact", createNew))

	var choice int
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title(fmt.Sprintf("Which CRM contact is %q?", display)).
			Options(opts...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return 0, false, portErr(err)
	}
	if choice == createNew {
		return 0, true, nil
	}
	return choice, false, nil
}

// ConfirmCreate asks whether to create a CRM contact for an address
// book contact that matched nothing.
func (p *Port) ConfirmCreate(display string) (engine.CreateChoice, error) {
	if p.AssumeYes {
		return engine.CreateYesToAll, nil
	}
	var choice engine.CreateChoice
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[engine.CreateChoice]().
			Title(fmt.Sprintf("%q has no CRM contact. Create one?", display)).
			Options(
				huh.NewOption("Yes", engine.CreateYes),
				huh.NewOption("Yes, and don't ask again", engine.CreateYesToAll),
				huh.NewOption("No, abort", engine.CreateNo),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return engine.CreateNo, portErr(err)
	}
	return choice, nil
}

func portErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return engine.ErrAborted
	}
	return err
}
