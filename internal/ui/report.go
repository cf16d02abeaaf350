package ui

import (
	"fmt"
	"strings"

	glamour "charm.land/glamour/v2"

	"github.com/pairsync/pairsync/internal/engine"
)

// CheckReportMarkdown formats a consistency check result as markdown.
// The same text is rendered with glamour on a terminal and printed
// verbatim when piped.
func CheckReportMarkdown(r *engine.CheckReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Consistency Check\n\n")
	fmt.Fprintf(&b, "Checked %d address book and %d CRM contacts in %s.\n\n",
		r.CheckedABook, r.CheckedCRM, r.Duration.Round(1e7))

	if r.Errors == 0 && len(r.ABookNotSynced) == 0 && len(r.CRMNotSynced) == 0 && len(r.Orphaned) == 0 {
		b.WriteString("All contacts are in sync. Nothing to do.\n")
		return b.String()
	}

	if r.Errors > 0 {
		fmt.Fprintf(&b, "## Errors\n\n%d pairing(s) point at a contact that no longer exists. "+
			"Run an initial sync to rebuild the pairings.\n\n", r.Errors)
	}
	if len(r.ABookNotSynced) > 0 {
		b.WriteString("## Address book contacts without a pairing\n\n")
		for _, item := range r.ABookNotSynced {
			fmt.Fprintf(&b, "- %s (`%s`)\n", item.Name, item.ID)
		}
		b.WriteString("\nA full sync creates their CRM counterparts.\n\n")
	}
	if len(r.CRMNotSynced) > 0 {
		b.WriteString("## CRM contacts without a pairing\n\n")
		for _, item := range r.CRMNotSynced {
			fmt.Fprintf(&b, "- %s (`%s`)\n", item.Name, item.ID)
		}
		b.WriteString("\nA sync back creates their address book counterparts.\n\n")
	}
	if len(r.Orphaned) > 0 {
		b.WriteString("## Orphaned pairings\n\n")
		for _, m := range r.Orphaned {
			fmt.Fprintf(&b, "- `%s` <-> `%s` (%s / %s)\n", m.ABookID, m.CRMID, m.ABookName, m.CRMName)
		}
		b.WriteString("\nBoth sides are gone. Harmless; an initial sync clears them.\n\n")
	}

	b.WriteString("Unpaired contacts that match each other are paired by an initial sync.\n")
	return b.String()
}

// RenderMarkdown renders markdown for terminal display, falling back to
// the raw text when stdout is not a terminal or rendering fails.
func RenderMarkdown(markdown string) string {
	if !IsTerminal() {
		return markdown
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(Width()),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return rendered
}
