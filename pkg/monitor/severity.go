package monitor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hexclaw/hexclaw/pkg/types"
)

var (
	cvssRe = regexp.MustCompile(`(?i)cvss[^\d]*(\d+(?:\.\d+)?)`)
	cveRe  = regexp.MustCompile(`(?i)\bcve-\d{4}-\d+\b`)
)

// Keyword buckets, checked most severe first. A CVSS score in the text wins
// over keywords.
var (
	criticalKeywords = []string{
		"rce", "remote code execution", "zero-day", "0day", "zero day",
		"actively exploited", "exploited in the wild", "unauthenticated",
		"wormable", "critical vulnerability", "log4shell", "eternalblue",
		"supply chain attack", "backdoor",
	}
	highKeywords = []string{
		"auth bypass", "authentication bypass", "privilege escalation",
		"privesc", "sql injection", "sqli", "path traversal",
		"directory traversal", "xxe", "buffer overflow", "heap overflow",
		"use after free", "deserialization", "command injection",
		"ransomware", "data breach",
	}
	mediumKeywords = []string{
		"xss", "cross-site scripting", "csrf", "ssrf", "open redirect",
		"dos", "denial of service", "information disclosure",
		"security update", "patch tuesday", "vulnerability",
	}
)

// scoreSeverity classifies feed-entry text. CVSS score beats keywords beats
// a bare CVE id (low); anything else is info.
func scoreSeverity(text string) string {
	lower := strings.ToLower(text)

	if m := cvssRe.FindStringSubmatch(lower); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil && score <= 10 {
			switch {
			case score >= 9:
				return types.SeverityCritical
			case score >= 7:
				return types.SeverityHigh
			case score >= 4:
				return types.SeverityMedium
			case score > 0:
				return types.SeverityLow
			}
		}
	}

	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return types.SeverityCritical
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return types.SeverityHigh
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(lower, kw) {
			return types.SeverityMedium
		}
	}
	if cveRe.MatchString(lower) {
		return types.SeverityLow
	}
	return types.SeverityInfo
}
