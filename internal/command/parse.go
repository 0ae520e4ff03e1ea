package command

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	subRe       = regexp.MustCompile(`(?i)^sub\s+(\d+)$`)
	targetRe    = regexp.MustCompile(`(?i)^target\s+(\d+)$`)
	suggestRe   = regexp.MustCompile(`(?i)^(?:suggest|suggestions|ideas)(?:\s+(.+))?$`)
	stopCodeRe  = regexp.MustCompile(`(?i)(?:\b(?:stop|bus|check|query|when|times?)\s+)?\b(\d{6})\b(?:\s+([a-z]{1,3}\d{1,3}[a-z+]*))?`)
	uberQuoteRe = regexp.MustCompile(`(?i)^uber\s+(.+?)\s+to\s+(.+)$`)
	confirmRe   = regexp.MustCompile(`(?i)^uber\s+confirm(?:\s+(\d+))?$`)
	authRe      = regexp.MustCompile(`(?i)^uber\s+auth\s+(\S+)$`)
)

// Parse maps message text and media flags to a Command. Rules are tried in
// a fixed order and the first match wins. It never fails: anything that
// matches no rule becomes an Error command.
//
// The stop code rule is deliberately loose so "when is 308209" works, which
// means a six digit number inside a food description or a six digit UBER
// AUTH code is read as a stop.
func Parse(text string, hasMedia bool, mediaType string) Command {
	text = strings.TrimSpace(norm.NFKC.String(text))
	lower := strings.ToLower(text)

	switch lower {
	case "how", "?":
		return Command{Type: Help}
	case "reset calories":
		return Command{Type: ResetCalories}
	case "total":
		return Command{Type: Total}
	}

	if m := subRe.FindStringSubmatch(text); m != nil {
		if n, ok := atoi(m[1]); ok {
			return Command{Type: Subtract, Amount: n}
		}
	}

	// A photo always goes to the estimator, whatever its caption says
	if hasMedia && strings.HasPrefix(strings.ToLower(mediaType), "image/") {
		return Command{Type: ImageCalorie, Text: text}
	}

	if m := targetRe.FindStringSubmatch(text); m != nil {
		if n, ok := atoi(m[1]); ok {
			return Command{Type: SetTarget, Amount: n}
		}
	}
	if m := suggestRe.FindStringSubmatch(text); m != nil {
		return Command{Type: Suggestions, Descriptors: strings.TrimSpace(m[1])}
	}

	if lower == "r" || lower == "refresh" {
		return Command{Type: Refresh}
	}

	if strings.HasPrefix(lower, "c ") {
		if route := strings.TrimSpace(text[2:]); route != "" {
			return Command{Type: ServiceChanges, Route: strings.ToUpper(route)}
		}
	}

	if m := stopCodeRe.FindStringSubmatch(text); m != nil {
		return Command{Type: StopQuery, StopCode: m[1], Route: strings.ToUpper(m[2])}
	}

	if strings.HasPrefix(lower, "uber ") || lower == "uber" {
		return parseUber(text, lower)
	}

	if len([]rune(text)) >= 2 {
		return Command{Type: FoodQuery, Text: text}
	}

	return Command{Type: Error, Message: HelpHint}
}

func parseUber(text, lower string) Command {
	switch {
	case lower == "uber status":
		return Command{Type: UberStatus}
	case lower == "uber cancel":
		return Command{Type: UberCancel}
	}

	if m := confirmRe.FindStringSubmatch(text); m != nil {
		product := 0
		if m[1] != "" {
			n, ok := atoi(m[1])
			if !ok || n < 1 {
				return Command{Type: Error, Message: UberHint}
			}
			product = n - 1
		}
		return Command{Type: UberConfirm, Product: product}
	}
	if m := authRe.FindStringSubmatch(text); m != nil {
		return Command{Type: UberAuth, Code: m[1]}
	}
	if m := uberQuoteRe.FindStringSubmatch(text); m != nil {
		pickup := strings.TrimSpace(m[1])
		destination := strings.TrimSpace(m[2])
		if pickup != "" && destination != "" {
			return Command{Type: UberQuote, Pickup: pickup, Destination: destination}
		}
	}

	return Command{Type: Error, Message: UberHint}
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
