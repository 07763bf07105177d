package senders

import (
	"fmt"
	"strings"

	"github.com/fencewatch/fencewatch/lib/models"
)

type digestEmailFormat struct {
	*models.Digest
	lookbackHours int
}

func (ef *digestEmailFormat) Subject() string {
	return fmt.Sprintf("Daily fencing update (%d new)", ef.TotalRows())
}

func (ef *digestEmailFormat) Body() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "Hi %s,\n\n", ef.Username)
	fmt.Fprintf(b, "Here are %d new registrations from the past %d hours:\n\n", ef.TotalRows(), ef.lookbackHours)

	for _, section := range ef.Sections {
		fmt.Fprintln(b, section.Label)
		fmt.Fprintln(b, strings.Repeat("-", len(section.Label)))

		for _, row := range section.Rows {
			fmt.Fprintf(b, "* %s - %s (%s)\n", row.FencerName, row.Events, row.TournamentName)
		}

		switch section.Kind {
		case models.SubjectFencer:
			fmt.Fprintf(b, "Profile page: %s\n", section.PageURL)
		default:
			fmt.Fprintf(b, "Club page: %s\n", section.PageURL)
		}
		fmt.Fprintln(b)
	}

	b.WriteString("Manage your tracking preferences:\n")
	b.WriteString("/clubs\n\n")
	b.WriteString("- The Fencewatch Team\n")
	return b.String()
}

// FormatDigest renders the plain-text digest email. lookbackHours is
// the selection window the rows were drawn from.
func FormatDigest(d *models.Digest, lookbackHours int) (subject, body string) {
	ef := &digestEmailFormat{d, lookbackHours}
	return ef.Subject(), ef.Body()
}

type registrationAlertFormat struct {
	FencerName     string
	Events         string
	TournamentName string
	SourceURL      string
}

func (ef *registrationAlertFormat) Subject() string {
	return fmt.Sprintf("New registration: %s - %s", ef.FencerName, ef.TournamentName)
}

func (ef *registrationAlertFormat) Body() string {
	return fmt.Sprintf(
		"%s registered for %s (%s).\n\nSource: %s\n",
		ef.FencerName, ef.Events, ef.TournamentName, ef.SourceURL,
	)
}

// FormatRegistrationAlert renders the transactional single-registration
// alert used by manual triggers and configuration tests.
func FormatRegistrationAlert(fencerName, events, tournamentName, sourceURL string) (subject, body string) {
	ef := &registrationAlertFormat{fencerName, events, tournamentName, sourceURL}
	return ef.Subject(), ef.Body()
}
