// Package confidence scores extraction results and fills in smart defaults.
// Everything here is pure: no I/O, no clock, no storage. The boost table is
// cumulative and every rule always runs; there is no early exit.
package confidence

import (
	"regexp"
	"strings"
	"time"

	"github.com/eventflow/eventflow/internal/extract"
)

// Message is the context of the text the extraction came from. For quick-add
// or SMS sources Subject and From may be empty; the rules tolerate that.
type Message struct {
	Subject string
	From    string
	Body    string
}

const (
	baseConfidence  = 0.5
	defaultDuration = 30 * time.Minute
	placeholderName = "Untitled"
)

var (
	dateRe = regexp.MustCompile(`\d{1,2}[./-]\d{1,2}[./-]\d{2,4}|\d{4}[./-]\d{1,2}[./-]\d{1,2}`)
	timeRe = regexp.MustCompile(`(?i)\d{1,2}:\d{2}\s*(am|pm|óra|:)`)

	replyPrefixRe  = regexp.MustCompile(`(?i)^(re:|fwd?:)\s*`)
	senderDomainRe = regexp.MustCompile(`@([^\s<>]+)`)

	locationLabelRe  = regexp.MustCompile(`(?:at|in|location|helyszín|helye):\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	locationVenueRe  = regexp.MustCompile(`([A-Z][a-z]+\s+(?:Room|Hall|Building|Terem|Épület))`)
	eventServiceList = []string{"calendar", "eventbrite", "meetup"}

	weekdays = []string{
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
		"hétfő", "kedd", "szerda", "csütörtök", "péntek", "szombat", "vasárnap",
	}

	meetingWords = []string{"meeting", "call", "appointment"}
)

// Score applies the boost table to an extraction. The extractor's own score
// is the starting point; 0.5 is substituted when the extractor gave none.
// The result is clamped to [0, 1].
func Score(r *extract.Result, msg Message) float64 {
	score := r.Confidence
	if score == 0 {
		score = baseConfidence
	}

	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	domain := senderDomain(msg.From)

	academic := strings.Contains(domain, ".edu") || strings.Contains(domain, "unideb.hu") ||
		strings.Contains(domain, "university")
	if academic {
		score += 0.15
	}

	for _, svc := range eventServiceList {
		if strings.Contains(domain, svc) {
			score += 0.20
			break
		}
	}

	// Exam keywords only count from senders that could plausibly mean them.
	if strings.Contains(subject, "vizsga") || strings.Contains(body, "vizsga") {
		if strings.Contains(domain, "unideb.hu") || strings.Contains(domain, ".edu") {
			score += 0.20
		}
	}
	if strings.Contains(subject, "exam") || strings.Contains(body, "exam") {
		if strings.Contains(domain, ".edu") {
			score += 0.15
		}
	}

	for _, w := range meetingWords {
		if strings.Contains(subject, w) {
			score += 0.10
			break
		}
	}

	if containsWeekday(body) && dateRe.MatchString(msg.Body) {
		score += 0.10
	}
	if timeRe.MatchString(msg.Body) {
		score += 0.05
	}

	if r.Location != "" {
		score += 0.05
	}
	if r.Title != "" && len(r.Title) > 5 && r.Title != placeholderName {
		score += 0.05
	}

	if r.Start != nil {
		score += 0.10
	} else {
		score -= 0.15
	}

	return clamp(score)
}

// senderDomain pulls the mailbox domain out of a from header. The sender
// rules match the domain only; keywords in the local part or display name
// mean nothing.
func senderDomain(from string) string {
	m := senderDomainRe.FindStringSubmatch(from)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// ApplyDefaults fills gaps the extractor left: a 30 minute duration when only
// a start is known, a title cut from the subject line, and a location guessed
// from the body. Fields the extractor did set are never overwritten.
func ApplyDefaults(r *extract.Result, msg Message) {
	if r.Start != nil && r.End == nil {
		end := r.Start.Add(defaultDuration)
		r.End = &end
	}

	if r.Title == "" || r.Title == placeholderName {
		if t := titleFromSubject(msg.Subject); t != "" {
			r.Title = t
		}
	}

	if r.Location == "" {
		r.Location = locationFromBody(msg.Body)
	}
}

// titleFromSubject strips reply prefixes and keeps the first five words.
// Too-short results are discarded rather than used as a worse placeholder.
func titleFromSubject(subject string) string {
	s := subject
	for {
		next := replyPrefixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}

	words := strings.Fields(s)
	if len(words) > 5 {
		words = words[:5]
	}

	title := strings.Join(words, " ")
	if len(title) <= 3 {
		return ""
	}
	return title
}

func locationFromBody(body string) string {
	if m := locationLabelRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	if m := locationVenueRe.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

func containsWeekday(lowerBody string) bool {
	for _, d := range weekdays {
		if strings.Contains(lowerBody, d) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
