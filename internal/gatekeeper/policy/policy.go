// Package policy decides whether a user may open a door at a given moment.
//
// Evaluate is a pure function over a Snapshot of the group, membership and
// binding rows.  It keeps no state between calls, so a policy change made by
// an administrator applies to the very next card presentation.
package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is the offset from local midnight.
type TimeOfDay time.Duration

// TimeOfDayOf returns the wall-clock time of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond()))
}

// Clock builds a TimeOfDay from hours, minutes and seconds.
func Clock(h, m, s int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

// ParseTimeOfDay accepts "HH:MM", "HH:MM:SS" and "HH:MM:SS.ffffff", which
// covers how both SQLite and PostgreSQL render TIME columns as text.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad time of day %q", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}

	var sec time.Duration
	if len(parts) == 3 {
		sec, err = parseSeconds(parts[2])
		if err != nil {
			return 0, fmt.Errorf("bad second in %q", s)
		}
	}

	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + sec), nil
}

var secondsPattern = regexp.MustCompile(`^([0-5][0-9])(?:\.([0-9]{1,9}))?$`)

// parseSeconds reads "SS" or "SS.fffffffff".
func parseSeconds(s string) (time.Duration, error) {
	m := secondsPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bad seconds %q", s)
	}
	whole, _ := strconv.Atoi(m[1])
	d := time.Duration(whole) * time.Second
	if frac := m[2]; frac != "" {
		ns, _ := strconv.Atoi(frac + strings.Repeat("0", 9-len(frac)))
		d += time.Duration(ns)
	}
	return d, nil
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// Weekdays holds one enable flag per day, Monday first.
type Weekdays [7]bool

// WeekdayIndex maps t to 0=Monday .. 6=Sunday.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

type Group struct {
	ID   int64
	Name string
	Days Weekdays
	// From and To bound the allowed time of day, inclusive.  A nil bound
	// never matches, and neither does a window with From after To.
	From *TimeOfDay
	To   *TimeOfDay
}

// InSchedule reports whether at falls on an enabled day inside the window.
func (g Group) InSchedule(at time.Time) bool {
	if !g.Days[WeekdayIndex(at)] {
		return false
	}
	if g.From == nil || g.To == nil {
		return false
	}
	tod := TimeOfDayOf(at)
	return *g.From <= tod && tod <= *g.To
}

type Membership struct {
	UserID  int64
	GroupID int64
}

type Binding struct {
	GroupID  int64
	ReaderID int64
}

// Snapshot is the slice of policy state an evaluation looks at.  It may
// hold more rows than the ones relevant to a single user or reader.
type Snapshot struct {
	Groups      []Group
	Memberships []Membership
	Bindings    []Binding
}

type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonNoMembership      Reason = "no_membership"
	ReasonReaderNotBound    Reason = "reader_not_bound"
	ReasonOutsideSchedule   Reason = "outside_schedule"
	ReasonPolicyUnavailable Reason = "policy_unavailable"
)

type Decision struct {
	Granted bool
	Reason  Reason
	// GroupID is the lowest-id group that granted access, 0 on deny.
	GroupID int64
}

// Deny returns a denial carrying reason.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

const (
	SignalGrant = "1"
	SignalDeny  = "0"
)

// Signal is the payload sent back to the reader.
func (d Decision) Signal() string {
	if d.Granted {
		return SignalGrant
	}
	return SignalDeny
}

// Evaluate grants access iff some group the user belongs to is bound to the
// reader and has at inside its schedule.
func Evaluate(s Snapshot, userID, readerID int64, at time.Time) Decision {
	member := make(map[int64]bool)
	for _, m := range s.Memberships {
		if m.UserID == userID {
			member[m.GroupID] = true
		}
	}
	if len(member) == 0 {
		return Deny(ReasonNoMembership)
	}

	bound := make(map[int64]bool)
	for _, b := range s.Bindings {
		if b.ReaderID == readerID {
			bound[b.GroupID] = true
		}
	}

	var (
		granted  int64
		found    bool
		anyBound bool
	)
	for _, g := range s.Groups {
		if !member[g.ID] || !bound[g.ID] {
			continue
		}
		anyBound = true
		if !g.InSchedule(at) {
			continue
		}
		if !found || g.ID < granted {
			granted, found = g.ID, true
		}
	}

	switch {
	case found:
		return Decision{Granted: true, Reason: ReasonGranted, GroupID: granted}
	case !anyBound:
		return Deny(ReasonReaderNotBound)
	default:
		return Deny(ReasonOutsideSchedule)
	}
}
