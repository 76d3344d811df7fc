package alarms

import (
	"errors"
	"strings"
	"time"
)

// Contact is an on-call SMS recipient.
type Contact struct {
	Name        string    `json:"name"`
	MSISDN      string    `json:"msisdn"`
	Group       string    `json:"group"`
	Role        string    `json:"role,omitempty"`
	DaysOfWeek  string    `json:"days_of_week"`
	WindowStart string    `json:"window_start"`
	WindowEnd   string    `json:"window_end"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "MON",
	time.Tuesday:   "TUE",
	time.Wednesday: "WED",
	time.Thursday:  "THU",
	time.Friday:    "FRI",
	time.Saturday:  "SAT",
	time.Sunday:    "SUN",
}

// Validate checks contact invariants. An invalid contact is skipped by
// routing, not treated as a fatal error.
func (c Contact) Validate() error {
	if c.Name == "" {
		return errors.New("contact: empty name")
	}
	if !validMSISDN(c.MSISDN) {
		return errors.New("contact: msisdn must be E.164")
	}
	if c.Group == "" {
		return errors.New("contact: empty group")
	}
	if _, err := parseClock(c.WindowStart); err != nil {
		return errors.New("contact: invalid window start")
	}
	if _, err := parseClock(c.WindowEnd); err != nil {
		return errors.New("contact: invalid window end")
	}
	return nil
}

// OnDuty reports whether the contact receives notifications at t. The
// day-of-week list is "ALL" or a comma-separated MON..SUN subset, and
// the [WindowStart, WindowEnd) clock window may wrap past midnight.
func (c Contact) OnDuty(t time.Time) bool {
	if !c.Enabled {
		return false
	}
	days := strings.ToUpper(c.DaysOfWeek)
	if days != "" && days != "ALL" {
		today := weekdayNames[t.Weekday()]
		matched := false
		for _, day := range strings.Split(days, ",") {
			if strings.TrimSpace(day) == today {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	start, err := parseClock(c.WindowStart)
	if err != nil {
		return false
	}
	end, err := parseClock(c.WindowEnd)
	if err != nil {
		return false
	}
	if start == end {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	if start < end {
		return now >= start && now < end
	}
	// Window wraps midnight, e.g. 23:00-06:00.
	return now >= start || now < end
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

func validMSISDN(value string) bool {
	if len(value) < 9 || len(value) > 16 || !strings.HasPrefix(value, "+") {
		return false
	}
	for _, r := range value[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value[1] != '0'
}
