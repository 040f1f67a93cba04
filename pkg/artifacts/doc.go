// Package artifacts stores and queries per-job step outputs.
//
// Each artifact is one SQLite file under <root>/<job_id>/<name>.db holding a
// single table named data; the column set is the union of record keys seen at
// write time. On top of the raw store sit the per-job aggregate (subdomains,
// ports, severity histogram, top findings) and the rule-based next-step
// heuristic, both of which run without any model call.
package artifacts
