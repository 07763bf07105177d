package scrape

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Row is one extracted registration listing. Downstream consumers
// never see the underlying markup.
type Row struct {
	FencerName     string
	TournamentName string
	TournamentDate string
	Events         string
}

// FetchError covers network/HTTP failures and pages with no parseable
// registration table.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch rows from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Scraper struct {
	log       *zap.Logger
	transport http.RoundTripper
}

func NewScraper(lc fx.Lifecycle, log *zap.Logger, transport http.RoundTripper) *Scraper {
	return &Scraper{log, transport}
}

func (s *Scraper) get(ctx context.Context, url string) (*html.Node, error) {
	var body string
	err := requests.URL(url).
		Transport(s.transport).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return doc, nil
}

// FetchClubRows extracts registration rows from a club page. Club
// tables carry fencer, tournament, date and events columns in that
// order. Rows with fewer than 4 cells are dropped at this layer; blank
// name handling belongs to the reconciler.
func (s *Scraper) FetchClubRows(ctx context.Context, clubURL string) ([]Row, error) {
	doc, err := s.get(ctx, clubURL)
	if err != nil {
		return nil, err
	}

	table := htmlquery.FindOne(doc, "//table")
	if table == nil {
		return nil, &FetchError{URL: clubURL, Err: fmt.Errorf("no registration table found on the page")}
	}

	var rows []Row
	for i, tr := range htmlquery.Find(table, ".//tr") {
		if i == 0 {
			continue // header
		}
		cells := htmlquery.Find(tr, "./td")
		if len(cells) < 4 {
			continue
		}
		rows = append(rows, Row{
			FencerName:     collectText(cells[0]),
			TournamentName: collectText(cells[1]),
			TournamentDate: collectText(cells[2]),
			Events:         collectText(cells[3]),
		})
	}
	return rows, nil
}

// Profile is the parsed content of a fencer profile page.
type Profile struct {
	// FencerName as extracted from the page heading or title, empty
	// when it cannot be determined.
	FencerName string
	// Rows with FencerName left blank; the caller fills it in from the
	// extracted name or the tracked subject's display name.
	Rows []Row
	// Hash of the registration tables, for change detection across
	// scrapes.
	Hash string
}

// FetchProfile extracts registrations from a fencer profile page.
// Profile tables carry tournament, event and date columns. An absent
// table yields an empty profile, not an error, since fencers with no
// upcoming registrations are a normal state.
func (s *Scraper) FetchProfile(ctx context.Context, profileURL string) (*Profile, error) {
	doc, err := s.get(ctx, profileURL)
	if err != nil {
		return nil, err
	}

	profile := &Profile{FencerName: extractFencerName(doc)}

	tables := registrationTables(doc)
	profile.Hash = hashTables(tables)

	for _, table := range tables {
		for i, tr := range htmlquery.Find(table, ".//tr") {
			if i == 0 {
				continue
			}
			cells := htmlquery.Find(tr, "./td")
			if len(cells) < 3 {
				continue
			}
			profile.Rows = append(profile.Rows, Row{
				TournamentName: collectText(cells[0]),
				Events:         collectText(cells[1]),
				TournamentDate: collectText(cells[2]),
			})
		}
	}
	return profile, nil
}

// registrationTables filters page tables down to ones that look like
// registration listings: at least 3 headers, one mentioning an event
// or tournament and one mentioning a date.
func registrationTables(doc *html.Node) []*html.Node {
	var out []*html.Node
	for _, table := range htmlquery.Find(doc, "//table") {
		headers := tableHeaders(table)
		if len(headers) < 3 {
			continue
		}
		if headersContain(headers, "event", "tournament") && headersContain(headers, "date") {
			out = append(out, table)
		}
	}
	return out
}

func tableHeaders(table *html.Node) []string {
	cells := htmlquery.Find(table, ".//thead//tr[1]/*[self::th or self::td]")
	if len(cells) == 0 {
		cells = htmlquery.Find(table, ".//tr[1]/*[self::th or self::td]")
	}

	var headers []string
	for _, cell := range cells {
		if label := strings.ToLower(collectText(cell)); label != "" {
			headers = append(headers, label)
		}
	}
	return headers
}

func headersContain(headers []string, keywords ...string) bool {
	for _, header := range headers {
		for _, keyword := range keywords {
			if strings.Contains(header, keyword) {
				return true
			}
		}
	}
	return false
}

// hashTables derives a stable digest of the registration rows so
// unchanged pages can skip reconciliation entirely.
func hashTables(tables []*html.Node) string {
	var parts []string
	for _, table := range tables {
		for i, tr := range htmlquery.Find(table, ".//tr") {
			if i == 0 {
				continue
			}
			cells := htmlquery.Find(tr, "./td")
			if len(cells) < 3 {
				continue
			}
			texts := make([]string, 0, 3)
			for _, cell := range cells[:3] {
				texts = append(texts, collectText(cell))
			}
			parts = append(parts, strings.Join(texts, "|"))
		}
	}
	sort.Strings(parts)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "\n"))))
}

func extractFencerName(doc *html.Node) string {
	if h1 := htmlquery.FindOne(doc, "//h1"); h1 != nil {
		if name := collectText(h1); plausibleName(name) {
			return name
		}
	}
	if title := htmlquery.FindOne(doc, "/html/head/title"); title != nil {
		text := collectText(title)
		if name, _, found := strings.Cut(text, " - "); found {
			if name = strings.TrimSpace(name); plausibleName(name) {
				return name
			}
		}
	}
	return ""
}

func plausibleName(name string) bool {
	switch strings.ToLower(name) {
	case "", "profile", "fencer", "athlete":
		return false
	}
	return true
}
