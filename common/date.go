package common

import (
	"errors"
	"regexp"
	"strconv"
	"time"
)

// Parse a date argument from the command line and return the time in the UTC time zone.
//
// The date format is one of:
//
//	YYYY-MM-DD
//	YYYY-MM-DDTHH:MM:SS (local to UTC)
//	RFC3339
//	Nd (days ago)
//	Nw (weeks ago)
//
// When endOfDay is set, a bare YYYY-MM-DD is taken to mean the start of the *following* day, so
// that a [from, to) pair built from two bare dates covers the `to` date in full.  Relative forms
// ignore endOfDay: the base time is "now" and no records can postdate it.
func ParseDateUtc(now time.Time, s string, endOfDay bool) (time.Time, error) {
	now = now.UTC()
	if probe := daysRe.FindStringSubmatch(s); probe != nil {
		days, _ := strconv.ParseUint(probe[1], 10, 32)
		return now.AddDate(0, 0, -int(days)), nil
	}

	if probe := weeksRe.FindStringSubmatch(s); probe != nil {
		weeks, _ := strconv.ParseUint(probe[1], 10, 32)
		return now.AddDate(0, 0, -int(weeks)*7), nil
	}

	if probe := dateRe.FindStringSubmatch(s); probe != nil {
		yyyy, _ := strconv.ParseUint(probe[1], 10, 32)
		mm, _ := strconv.ParseUint(probe[2], 10, 32)
		dd, _ := strconv.ParseUint(probe[3], 10, 32)
		t := time.Date(int(yyyy), time.Month(mm), int(dd), 0, 0, 0, 0, time.UTC)
		if endOfDay {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}

	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}

	return now, errors.New("Bad time specification " + s)
}

// MT: Constant after initialization; immutable
var (
	dateRe  = regexp.MustCompile(`^(\d\d\d\d)-(\d\d)-(\d\d)$`)
	daysRe  = regexp.MustCompile(`^(\d+)d$`)
	weeksRe = regexp.MustCompile(`^(\d+)w$`)
)
