package calsync

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/eventflow/eventflow/internal/core"
)

const prodID = "-//EventFlow//EN"

// ValidateRecurrence checks that a recurrence rule is a well-formed RRULE
// body ("FREQ=WEEKLY;BYDAY=MO"). Empty rules are valid: no recurrence.
func ValidateRecurrence(rule string) error {
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return fmt.Errorf("%w: invalid recurrence rule %q: %v", core.ErrValidation, rule, err)
	}
	return nil
}

// BuildICS renders an event as a single-VEVENT calendar file
func BuildICS(ev *core.Event) ([]byte, error) {
	if err := ValidateRecurrence(ev.Recurrence); err != nil {
		return nil, err
	}

	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, string(ev.ID)+"@eventflow")
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)

	end := ev.Start.Add(30 * time.Minute)
	if ev.End != nil {
		end = *ev.End
	}
	ve.Props.SetDateTime(ical.PropDateTimeEnd, end)

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.Recurrence != "" {
		p := ical.NewProp(ical.PropRecurrenceRule)
		p.Value = ev.Recurrence
		ve.Props.Add(p)
	}
	for _, attendee := range ev.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = fmt.Sprintf("mailto:%s", attendee)
		ve.Props.Add(p)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, ve)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode ICS: %w", err)
	}
	return buf.Bytes(), nil
}
