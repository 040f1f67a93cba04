package artifacts

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// Summary is the structured rollup of one job's conventional artifacts.
type Summary struct {
	JobID           string          `json:"job_id"`
	Subdomains      int             `json:"subdomains"`
	SubdomainSample []string        `json:"subdomain_sample,omitempty"`
	Ports           int             `json:"ports"`
	PortSample      []int           `json:"port_sample,omitempty"`
	AllPorts        []int           `json:"-"`
	SeverityCounts  map[string]int  `json:"severity_counts"`
	TotalVulns      int             `json:"total_vulns"`
	TopFindings     []types.Finding `json:"top_findings,omitempty"`
}

const (
	maxSubdomainSample = 10
	maxPortSample      = 20
	maxTopFindings     = 10
)

// Aggregate scans every artifact in the job's directory and classifies rows
// by shape: a subdomain column contributes subdomains, a port column ports,
// a severity column findings. Unreadable artifacts are skipped.
func (s *Store) Aggregate(jobID string) Summary {
	sum := Summary{JobID: jobID, SeverityCounts: make(map[string]int)}

	matches, err := filepath.Glob(filepath.Join(s.root, jobID, "*"+Ext))
	if err != nil || len(matches) == 0 {
		return sum
	}

	subdomains := make(map[string]struct{})
	ports := make(map[int]struct{})
	var findings []types.Finding
	seenFindings := make(map[string]struct{})

	for _, path := range matches {
		rows, err := s.Query(path, "")
		if err != nil {
			continue
		}
		for _, row := range rows {
			if v, ok := row["subdomain"]; ok {
				if sd := strings.TrimSpace(asString(v)); sd != "" {
					subdomains[sd] = struct{}{}
				}
				continue
			}
			if v, ok := row["port"]; ok {
				if p, ok := asInt(v); ok {
					ports[p] = struct{}{}
				}
				continue
			}
			if _, ok := row["severity"]; ok {
				// The same finding can appear in both a tool's own
				// artifact and the consolidated findings one.
				f := findingFromRow(row)
				key := f.Tool + "\x00" + f.Title + "\x00" + f.Severity
				if _, dup := seenFindings[key]; dup {
					continue
				}
				seenFindings[key] = struct{}{}
				findings = append(findings, f)
			}
		}
	}

	sum.Subdomains = len(subdomains)
	for sd := range subdomains {
		sum.SubdomainSample = append(sum.SubdomainSample, sd)
	}
	sort.Strings(sum.SubdomainSample)
	if len(sum.SubdomainSample) > maxSubdomainSample {
		sum.SubdomainSample = sum.SubdomainSample[:maxSubdomainSample]
	}

	sum.Ports = len(ports)
	for p := range ports {
		sum.AllPorts = append(sum.AllPorts, p)
	}
	sort.Ints(sum.AllPorts)
	sum.PortSample = sum.AllPorts
	if len(sum.PortSample) > maxPortSample {
		sum.PortSample = sum.PortSample[:maxPortSample]
	}

	sum.TotalVulns = len(findings)
	for _, f := range findings {
		sum.SeverityCounts[f.Severity]++
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return types.SeverityRank(findings[i].Severity) < types.SeverityRank(findings[j].Severity)
	})
	if len(findings) > maxTopFindings {
		findings = findings[:maxTopFindings]
	}
	sum.TopFindings = findings

	return sum
}

// HasPort reports whether port appeared anywhere in the job's port set,
// not just the truncated display sample.
func (s Summary) HasPort(port int) bool {
	for _, p := range s.AllPorts {
		if p == port {
			return true
		}
	}
	return false
}

// CritHigh returns the count of critical plus high findings.
func (s Summary) CritHigh() int {
	return s.SeverityCounts[types.SeverityCritical] + s.SeverityCounts[types.SeverityHigh]
}

// Text renders the summary as short human-readable lines for prompts and
// notifications.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "subdomains: %d", s.Subdomains)
	if len(s.SubdomainSample) > 0 {
		fmt.Fprintf(&b, " (e.g. %s)", strings.Join(s.SubdomainSample[:min(3, len(s.SubdomainSample))], ", "))
	}
	fmt.Fprintf(&b, "\nopen ports: %d", s.Ports)
	if len(s.PortSample) > 0 {
		strs := make([]string, len(s.PortSample))
		for i, p := range s.PortSample {
			strs[i] = strconv.Itoa(p)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(strs, ", "))
	}
	fmt.Fprintf(&b, "\nfindings: %d", s.TotalVulns)
	for _, sev := range []string{types.SeverityCritical, types.SeverityHigh, types.SeverityMedium, types.SeverityLow, types.SeverityInfo} {
		if n := s.SeverityCounts[sev]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", sev, n)
		}
	}
	return b.String()
}

func findingFromRow(row map[string]any) types.Finding {
	f := types.Finding{
		Tool:     asString(row["tool"]),
		Severity: strings.ToLower(asString(row["severity"])),
		Title:    asString(row["title"]),
		Detail:   asString(row["detail"]),
	}
	if f.Title == "" {
		f.Title = asString(row["template"])
	}
	if f.Severity == "" {
		f.Severity = types.SeverityInfo
	}
	return f
}

func asString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func asInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}
