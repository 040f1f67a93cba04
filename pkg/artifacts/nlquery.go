package artifacts

import (
	"context"
	"regexp"
	"strings"
)

// prebuilt maps a normalized operator question to (glob, sql). Exact matches
// here answer the data command with zero model calls.
type prebuiltQuery struct {
	glob string
	sql  string
}

var prebuilt = map[string]prebuiltQuery{
	"how many subdomains":       {"*/subs" + Ext, `SELECT COUNT(DISTINCT subdomain) AS subdomains FROM data`},
	"how many subdomains found": {"*/subs" + Ext, `SELECT COUNT(DISTINCT subdomain) AS subdomains FROM data`},
	"list subdomains":           {"*/subs" + Ext, `SELECT DISTINCT subdomain FROM data ORDER BY subdomain`},
	"list all subdomains":       {"*/subs" + Ext, `SELECT DISTINCT subdomain FROM data ORDER BY subdomain`},
	"how many open ports":       {"*/ports" + Ext, `SELECT COUNT(DISTINCT port) AS ports FROM data`},
	"list open ports":           {"*/ports" + Ext, `SELECT DISTINCT port FROM data ORDER BY port`},
	"list all open ports":       {"*/ports" + Ext, `SELECT DISTINCT port FROM data ORDER BY port`},
	"how many vulnerabilities":  {"*/vulns" + Ext, `SELECT COUNT(*) AS vulns FROM data`},
	"how many findings":         {"*/findings" + Ext, `SELECT COUNT(*) AS findings FROM data`},
	"list critical findings":    {"*/vulns" + Ext, `SELECT * FROM data WHERE severity = 'critical'`},
	"show critical findings":    {"*/vulns" + Ext, `SELECT * FROM data WHERE severity = 'critical'`},
	"list high findings":        {"*/vulns" + Ext, `SELECT * FROM data WHERE severity = 'high'`},
	"findings by severity":      {"*/vulns" + Ext, severityOrderSQL},
	"list findings by severity": {"*/vulns" + Ext, severityOrderSQL},
}

const severityOrderSQL = `SELECT * FROM data ORDER BY CASE severity
	WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2
	WHEN 'low' THEN 3 ELSE 4 END`

// SQLGenerator turns a natural-language question into SQL. The router's low
// tier backs it in production; nil disables the fallback entirely.
type SQLGenerator func(ctx context.Context, question string) string

var rawSQLRe = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
var normalizeRe = regexp.MustCompile(`[^a-z0-9 ]+`)

// NLQuery answers an operator data question. Raw SELECT/WITH input runs
// directly over all findings artifacts; known questions use the prebuilt SQL
// table (zero inference); anything else falls through to gen when provided.
func (s *Store) NLQuery(ctx context.Context, question string, gen SQLGenerator) ([]map[string]any, error) {
	if rawSQLRe.MatchString(question) {
		return s.QueryGlob("*/*"+Ext, question)
	}

	if q, ok := prebuilt[normalizeQuestion(question)]; ok {
		return s.QueryGlob(q.glob, q.sql)
	}

	if gen == nil {
		return nil, nil
	}
	generated := gen(ctx, question)
	if !rawSQLRe.MatchString(generated) {
		return nil, nil
	}
	return s.QueryGlob("*/*"+Ext, generated)
}

func normalizeQuestion(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = normalizeRe.ReplaceAllString(q, "")
	q = strings.TrimSuffix(q, " were found")
	q = strings.TrimSpace(strings.Join(strings.Fields(q), " "))
	return q
}
