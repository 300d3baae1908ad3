package template

import (
	"strconv"
	"strings"
	"time"
)

// FormatDate renders t using a date-fns style format string, the
// format family Logseq exposes as the user's preferred date format
// (e.g. "yyyy-MM-dd", "MMM do, yyyy", "EEE, dd/MM/yyyy").
//
// Tokens are translated per piece rather than via a single reference
// layout because date-fns has tokens Go layouts cannot express (the
// ordinal day "do").
func FormatDate(t time.Time, format string) string {
	var b strings.Builder
	runes := []rune(format)

	for i := 0; i < len(runes); {
		// Quoted literals: 'T' renders as T.
		if runes[i] == '\'' {
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				b.WriteRune(runes[j])
				j++
			}
			i = j + 1
			continue
		}

		token, length := longestToken(runes[i:])
		if length == 0 {
			b.WriteRune(runes[i])
			i++
			continue
		}
		b.WriteString(formatToken(t, token))
		i += length
	}

	return b.String()
}

// DateReference renders the date as a linkable page reference,
// [[formatted date]].
func DateReference(t time.Time, format string) string {
	return "[[" + FormatDate(t, format) + "]]"
}

// dateTokens is ordered longest-first so the scanner always takes the
// longest match (MMMM before MMM before MM before M).
var dateTokens = []string{
	"yyyy", "MMMM", "EEEE",
	"MMM", "EEE",
	"yy", "MM", "dd", "do", "DD", "HH", "hh", "mm", "ss",
	"M", "d", "D", "H", "h", "m", "s", "a",
}

func longestToken(rest []rune) (string, int) {
	s := string(rest)
	for _, tok := range dateTokens {
		if strings.HasPrefix(s, tok) {
			return tok, len(tok)
		}
	}
	return "", 0
}

func formatToken(t time.Time, token string) string {
	switch token {
	case "yyyy":
		return t.Format("2006")
	case "yy":
		return t.Format("06")
	case "MMMM":
		return t.Format("January")
	case "MMM":
		return t.Format("Jan")
	case "MM":
		return t.Format("01")
	case "M":
		return strconv.Itoa(int(t.Month()))
	case "dd", "DD":
		return t.Format("02")
	case "d", "D":
		return strconv.Itoa(t.Day())
	case "do":
		return ordinal(t.Day())
	case "EEEE":
		return t.Format("Monday")
	case "EEE":
		return t.Format("Mon")
	case "HH":
		return t.Format("15")
	case "H":
		return strconv.Itoa(t.Hour())
	case "hh":
		return t.Format("03")
	case "h":
		return t.Format("3")
	case "mm":
		return t.Format("04")
	case "m":
		return strconv.Itoa(t.Minute())
	case "ss":
		return t.Format("05")
	case "s":
		return strconv.Itoa(t.Second())
	case "a":
		return t.Format("PM")
	default:
		return token
	}
}

func ordinal(day int) string {
	suffix := "th"
	if day%100 < 11 || day%100 > 13 {
		switch day % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(day) + suffix
}
