package site

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // Europe/Bucharest must resolve in slim images.
)

// DefaultLayouts are tried after any site-specific layouts.
var DefaultLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02.01.2006 15:04",
	"02.01.2006",
	"2 January, 2006",
	"2 January 2006, 15:04",
	"2 January 2006 15:04",
	"2 January 2006",
	"January 2, 2006",
}

var romanianMonths = strings.NewReplacer(
	"ianuarie", "January", "februarie", "February", "martie", "March",
	"aprilie", "April", "mai", "May", "iunie", "June",
	"iulie", "July", "august", "August", "septembrie", "September",
	"octombrie", "October", "noiembrie", "November", "decembrie", "December",
)

// DateParser turns listing and article date strings into times.
type DateParser struct {
	layouts  []string
	location *time.Location
	romanian bool
}

// NewDateParser builds a parser. locale "ro" enables Romanian month names.
// timezone names an IANA zone used for layouts without an offset.
func NewDateParser(layouts []string, locale, timezone string) (*DateParser, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	all := make([]string, 0, len(layouts)+len(DefaultLayouts))
	all = append(all, layouts...)
	all = append(all, DefaultLayouts...)
	return &DateParser{
		layouts:  all,
		location: loc,
		romanian: strings.EqualFold(locale, "ro"),
	}, nil
}

// Parse tries every layout in order.
func (p *DateParser) Parse(raw string) (time.Time, error) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	candidates := []string{s}
	if p.romanian {
		translated := romanianMonths.Replace(strings.ToLower(s))
		candidates = append(candidates, strings.ReplaceAll(translated, " ,", ","))
	}
	for _, c := range candidates {
		for _, layout := range p.layouts {
			if t, err := time.ParseInLocation(layout, c, p.location); err == nil {
				return t.UTC(), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
