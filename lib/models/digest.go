package models

// DigestRow is one registration line in a digest email.
type DigestRow struct {
	FencerName     string
	Events         string
	TournamentName string
}

// DigestSection groups the matching registrations of one tracked
// subject. Kind selects the trailing page-reference wording.
type DigestSection struct {
	Label   string
	PageURL string
	Kind    SubjectKind
	Rows    []DigestRow
}

type SubjectKind string

const (
	SubjectClub   SubjectKind = "club"
	SubjectFencer SubjectKind = "fencer"
)

// Digest is the fully-selected content of one user's notification.
// Empty digests (no sections) are never sent.
type Digest struct {
	Username string
	Sections []DigestSection
}

func (d *Digest) TotalRows() int {
	total := 0
	for _, section := range d.Sections {
		total += len(section.Rows)
	}
	return total
}
