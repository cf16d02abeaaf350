package ui

import (
	"fmt"
	"strings"

	"github.com/pairsync/pairsync/internal/engine"
)

// RenderStats formats the run summary box printed after a sync.
func RenderStats(s engine.RunStats) string {
	lines := []string{
		HeaderStyle.Render("Sync finished"),
		fmt.Sprintf("Duration            %s", s.Duration.Round(1e7)),
		fmt.Sprintf("Address book calls  %d", s.ABookRequests),
		fmt.Sprintf("CRM calls           %d", s.CRMRequests),
	}
	if s.CRMCreated > 0 {
		lines = append(lines, PassStyle.Render(fmt.Sprintf("CRM created         %d", s.CRMCreated)))
	}
	if s.CRMUpdated > 0 {
		lines = append(lines, fmt.Sprintf("CRM updated         %d", s.CRMUpdated))
	}
	if s.CRMDeleted > 0 {
		lines = append(lines, WarnStyle.Render(fmt.Sprintf("CRM deleted         %d", s.CRMDeleted)))
	}
	if s.ABookCreated > 0 {
		lines = append(lines, PassStyle.Render(fmt.Sprintf("Abook created       %d", s.ABookCreated)))
	}
	body := strings.Join(lines, "\n")
	if !IsTerminal() {
		return body
	}
	return BoxStyle.Render(body)
}
