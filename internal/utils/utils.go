package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// GenerateDeviceName creates a random, memorable device name using namegenerator
func GenerateDeviceName() string {
	seed := time.Now().UTC().UnixNano()
	nameGenerator := namegenerator.NewNameGenerator(seed)

	// Generate a name like "wispy-dust"
	name := nameGenerator.Generate()

	// Some names might have underscores; convert to hyphens for consistency
	return strings.ReplaceAll(name, "_", "-")
}

// SanitizeDeviceName cleans up a user supplied device name so it is safe to
// send as a header value
func SanitizeDeviceName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	replacer := strings.NewReplacer(
		" ", "-",
		"_", "-",
		".", "-",
		",", "-",
		";", "-",
		":", "-",
		"/", "-",
		"\\", "-",
	)
	name = replacer.Replace(name)

	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}

	return strings.Trim(name, "-")
}

// FormatTime formats t for table output, "-" when unset
func FormatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04:05")
}

// FormatMoney formats an amount with two decimals
func FormatMoney(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Truncate shortens s to maxLen runes, marking the cut with "..."
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// MaskToken hides all but the last four characters of a token
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}
