package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// ToolKind classifies how a step's tool resolves.
type ToolKind int

const (
	// KindExternal tools POST to the tool server.
	KindExternal ToolKind = iota
	// KindInternal tools are dispatcher actions (store_findings, suggest_next).
	KindInternal
	// KindUnknown tools synthesize a success result so dry skill chains
	// stay composable.
	KindUnknown
)

// endpoints is the closed map from tool name to tool-server path.
var endpoints = map[string]string{
	"subfinder": "/subfinder",
	"amass":     "/amass",
	"dnsx":      "/dnsx",
	"naabu":     "/naabu",
	"nmap":      "/nmap",
	"httpx":     "/httpx",
	"katana":    "/katana",
	"nuclei":    "/nuclei",
	"ffuf":      "/ffuf",
	"gobuster":  "/gobuster",
	"tlsx":      "/tlsx",
	"whois":     "/whois",
	"sslscan":   "/sslscan",
}

// resolveTool classifies a step.
func resolveTool(step types.Step) (ToolKind, string) {
	if step.Action != "" {
		return KindInternal, step.Action
	}
	if path, ok := endpoints[step.Tool]; ok {
		return KindExternal, path
	}
	return KindUnknown, ""
}

// buildPayload composes the POST body for an external tool: the per-tool
// template drawn from the job context, then step extras merged last without
// overwriting template fields. This table is THE place to teach the
// dispatcher a new tool's request shape.
func buildPayload(tool, target string, step types.Step) map[string]any {
	var payload map[string]any
	switch tool {
	case "subfinder", "amass", "dnsx":
		payload = map[string]any{"domain": target}
	case "naabu", "nmap":
		payload = map[string]any{"target": target, "top_ports": 1000}
	case "nuclei":
		payload = map[string]any{"target": target, "severity": "low,medium,high,critical"}
	case "ffuf", "gobuster", "katana":
		payload = map[string]any{"url": "https://" + target, "wordlist": "common"}
	case "httpx", "tlsx", "sslscan":
		payload = map[string]any{"target": target, "follow_redirects": true}
	default:
		payload = map[string]any{"target": target}
	}

	for k, v := range step.Params {
		if _, taken := payload[k]; !taken {
			payload[k] = v
		}
	}
	return payload
}

// extractRecords turns a tool result into artifact rows. Subdomain-shaped
// results yield {subdomain} rows, port-shaped {port}, vulnerability-shaped
// normalized finding rows; anything else collapses to one {raw} row.
func extractRecords(tool string, result map[string]any) []map[string]any {
	if subs, ok := result["subdomains"].([]any); ok {
		rows := make([]map[string]any, 0, len(subs))
		for _, s := range subs {
			if sd, ok := s.(string); ok && sd != "" {
				rows = append(rows, map[string]any{"subdomain": sd})
			}
		}
		return rows
	}

	if ports, ok := result["open_ports"].([]any); ok {
		rows := make([]map[string]any, 0, len(ports))
		for _, p := range ports {
			switch p := p.(type) {
			case float64:
				rows = append(rows, map[string]any{"port": int(p)})
			case map[string]any:
				if n, ok := p["port"].(float64); ok {
					row := map[string]any{"port": int(n)}
					if svc, ok := p["service"].(string); ok {
						row["service"] = svc
					}
					rows = append(rows, row)
				}
			}
		}
		return rows
	}

	if vulns, ok := result["vulnerabilities"].([]any); ok {
		rows := make([]map[string]any, 0, len(vulns))
		for _, f := range extractFindings(tool, vulns) {
			rows = append(rows, map[string]any{
				"tool":     f.Tool,
				"severity": f.Severity,
				"title":    f.Title,
				"detail":   f.Detail,
			})
		}
		return rows
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return []map[string]any{{"raw": string(raw)}}
}

// extractFindings normalizes vulnerability entries across tool shapes.
func extractFindings(tool string, vulns []any) []types.Finding {
	var out []types.Finding
	for _, v := range vulns {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		f := types.Finding{
			Tool:     tool,
			Severity: strings.ToLower(stringField(entry, "severity")),
			Title:    stringField(entry, "template", "name", "title"),
			Detail:   stringField(entry, "detail", "matched_at", "description"),
		}
		if f.Severity == "" {
			f.Severity = types.SeverityInfo
		}
		if f.Title == "" {
			f.Title = "unnamed finding"
		}
		out = append(out, f)
	}
	return out
}

// findingsOf pulls normalized findings out of any tool result that carries a
// vulnerabilities array.
func findingsOf(tool string, result map[string]any) []types.Finding {
	vulns, ok := result["vulnerabilities"].([]any)
	if !ok {
		return nil
	}
	return extractFindings(tool, vulns)
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
