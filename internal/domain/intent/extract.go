package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Extractor pulls one argument value out of a question. ok is false when
// the question does not mention it.
type Extractor func(question string) (value any, ok bool)

var (
	rePartySize = regexp.MustCompile(`(?i)\b(?:for|party of|table for)\s+(\d{1,3})\b|\b(\d{1,3})\s+(?:guests?|people|persons?|covers?|adults?|of us)\b`)
	reNights    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+nights?\b`)
	reTickets   = regexp.MustCompile(`(?i)\b(\d{1,3})\s+(?:tickets?|seats?|passes?)\b`)
	reTime      = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	reDate      = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday|\d{4}-\d{2}-\d{2})\b`)
	reRoomType  = regexp.MustCompile(`(?i)\b(single|double|twin|king|queen|suite|deluxe)\b`)
)

var extractors = map[string]Extractor{
	"party_size": intMatch(rePartySize),
	"nights":     intMatch(reNights),
	"tickets":    intMatch(reTickets),
	"time":       extractTime,
	"date":       lowerMatch(reDate),
	"room_type":  lowerMatch(reRoomType),
}

// Extract runs the named extractor.
func Extract(name, question string) (any, bool) {
	ex, ok := extractors[name]
	if !ok {
		return nil, false
	}
	return ex(question)
}

// intMatch returns the first non-empty numeric group of re.
func intMatch(re *regexp.Regexp) Extractor {
	return func(q string) (any, bool) {
		m := re.FindStringSubmatch(q)
		for _, g := range m[min(1, len(m)):] {
			if g == "" {
				continue
			}
			n, err := strconv.Atoi(g)
			if err != nil || n < 1 {
				return nil, false
			}
			return n, true
		}
		return nil, false
	}
}

func lowerMatch(re *regexp.Regexp) Extractor {
	return func(q string) (any, bool) {
		m := re.FindStringSubmatch(q)
		if len(m) < 2 {
			return nil, false
		}
		return strings.ToLower(m[1]), true
	}
}

// extractTime normalizes "7pm", "7:30 pm" and "19:30" to HH:MM.
func extractTime(q string) (any, bool) {
	m := reTime.FindStringSubmatch(q)
	if m == nil {
		return nil, false
	}
	if m[3] != "" {
		h, _ := strconv.Atoi(m[1])
		if h < 1 || h > 12 {
			return nil, false
		}
		mins := "00"
		if m[2] != "" {
			mins = m[2]
		}
		if strings.EqualFold(m[3], "pm") && h != 12 {
			h += 12
		}
		if strings.EqualFold(m[3], "am") && h == 12 {
			h = 0
		}
		return pad2(h) + ":" + mins, true
	}
	h, _ := strconv.Atoi(m[4])
	return pad2(h) + ":" + m[5], true
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
