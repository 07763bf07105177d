package subjects

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	profilePathPattern = regexp.MustCompile(`(?i)/p/(\d+)(?:/([^/?#]+))?`)
	clubPathPattern    = regexp.MustCompile(`(?i)/club/(\d+)(?:/([^/?#]+))?`)
	digitsOnly         = regexp.MustCompile(`^\d+$`)
)

var validWeapons = map[string]bool{"foil": true, "epee": true, "saber": true}

// NormalizeWeaponFilter lowercases, deduplicates and sorts the weapon
// tokens of a comma-separated filter. Unknown tokens are dropped; an
// empty result means "no filter".
func NormalizeWeaponFilter(raw string) string {
	seen := map[string]bool{}
	for _, token := range strings.Split(raw, ",") {
		token = strings.ToLower(strings.TrimSpace(token))
		if validWeapons[token] {
			seen[token] = true
		}
	}
	if len(seen) == 0 {
		return ""
	}

	weapons := make([]string, 0, len(seen))
	for weapon := range seen {
		weapons = append(weapons, weapon)
	}
	sort.Strings(weapons)
	return strings.Join(weapons, ",")
}

// NormalizeFencerID accepts a bare numeric fencingtracker ID or a
// pasted profile URL and returns the numeric ID plus the profile slug
// when one is present.
func NormalizeFencerID(raw string) (id, slug string, err error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", errors.New("fencer ID cannot be empty")
	}

	if digitsOnly.MatchString(value) {
		return value, "", nil
	}

	if match := profilePathPattern.FindStringSubmatch(value); match != nil {
		return match[1], strings.TrimSpace(match[2]), nil
	}

	lowered := strings.ToLower(value)
	for _, prefix := range []string{"http://", "https://", "www.", "//", "fencingtracker.com", "/"} {
		if strings.HasPrefix(lowered, prefix) {
			return "", "", errors.New("could not find a numeric ID in that profile URL")
		}
	}
	return "", "", errors.New("fencer ID must be numeric")
}

// NormalizeClubURL accepts a pasted fencingtracker club URL in any of
// its shapes (with or without scheme, slug, or trailing
// /registrations) and returns the canonical registrations-page URL
// plus the club slug when one is present.
func NormalizeClubURL(raw string) (normalized, slug string, err error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", "", errors.New("club URL cannot be empty")
	}

	match := clubPathPattern.FindStringSubmatch(value)
	if match == nil {
		return "", "", errors.New("could not find a club ID in that URL")
	}

	clubID := match[1]
	slug = strings.TrimSpace(match[2])
	if strings.EqualFold(slug, "registrations") {
		slug = ""
	}
	if slug == "" {
		return fmt.Sprintf("https://www.fencingtracker.com/club/%s/registrations", clubID), "", nil
	}
	return fmt.Sprintf("https://www.fencingtracker.com/club/%s/%s/registrations", clubID, slug), slug, nil
}

// DeriveDisplayName turns a profile slug like "Jane-Doe" or
// "jane_doe" into a human-friendly name.
func DeriveDisplayName(slug string) string {
	decoded, err := url.PathUnescape(slug)
	if err != nil {
		decoded = slug
	}
	decoded = strings.ReplaceAll(decoded, "_", " ")
	decoded = strings.ReplaceAll(decoded, "-", " ")

	tokens := strings.Fields(decoded)
	for i, token := range tokens {
		tokens[i] = titleize(token)
	}
	return strings.Join(tokens, " ")
}

func titleize(token string) string {
	if token == "" {
		return token
	}
	if strings.Contains(token, "'") {
		parts := strings.Split(token, "'")
		for i, part := range parts {
			parts[i] = capitalize(part)
		}
		return strings.Join(parts, "'")
	}
	return capitalize(token)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
