package artifacts

import (
	"fmt"
	"sort"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// Well-known next-step actions. The dispatcher composes follow-up goals from
// these, so they double as planner keywords.
const (
	ActionDeepScan       = "deep_scan"
	ActionManualReview   = "manual_review"
	ActionDirFuzzing     = "dir_fuzzing"
	ActionContentDisc    = "content_discovery"
	ActionWebFingerprint = "web_fingerprint"
	ActionSSHAudit       = "ssh_audit"
	ActionSMBEnum        = "smb_enum"
	ActionLiveHostSweep  = "live_host_sweep"
	ActionLLMPrioritize  = "llm_prioritize"
	ActionPassiveRecon   = "passive_recon"
	ActionFullPortSweep  = "full_port_sweep"
)

var webPorts = []int{80, 443, 8080, 8443, 8000, 3000}

var dbPorts = map[int]string{
	3306:  "mysql",
	5432:  "postgres",
	6379:  "redis",
	27017: "mongodb",
	1433:  "mssql",
	1521:  "oracle",
}

// SuggestNext derives a priority-ordered, deduplicated action list from a
// job's aggregate by applying a fixed predicate table. It makes no model
// calls; the only inference-adjacent output is a request to run one.
func SuggestNext(sum Summary) []types.Suggestion {
	var out []types.Suggestion
	seen := make(map[string]struct{})
	add := func(action, reason string, priority int) {
		if _, dup := seen[action]; dup {
			return
		}
		seen[action] = struct{}{}
		out = append(out, types.Suggestion{Action: action, Reason: reason, Priority: priority})
	}

	if n := sum.CritHigh(); n > 0 {
		reason := fmt.Sprintf("%d critical/high finding(s) present", n)
		add(ActionDeepScan, reason, 1)
		add(ActionManualReview, reason, 1)
	}

	for _, p := range webPorts {
		if sum.HasPort(p) {
			reason := fmt.Sprintf("web service on port %d", p)
			add(ActionDirFuzzing, reason, 2)
			add(ActionContentDisc, reason, 3)
			add(ActionWebFingerprint, reason, 3)
			break
		}
	}

	if sum.HasPort(22) {
		add(ActionSSHAudit, "SSH exposed on port 22", 2)
	}
	if sum.HasPort(445) || sum.HasPort(139) {
		add(ActionSMBEnum, "SMB exposed", 2)
	}
	for _, p := range sum.AllPorts {
		if name, ok := dbPorts[p]; ok {
			add("probe_"+name, fmt.Sprintf("%s port %d open", name, p), 2)
		}
	}

	if sum.Subdomains > 0 {
		add(ActionLiveHostSweep, fmt.Sprintf("%d subdomain(s) discovered", sum.Subdomains), 3)
	}

	if sum.TotalVulns > 0 && sum.CritHigh() == 0 {
		add(ActionLLMPrioritize, "findings present but none critical/high", 4)
	}

	if sum.TotalVulns == 0 && sum.Ports == 0 && sum.Subdomains == 0 {
		add(ActionPassiveRecon, "no findings yet, widen passive recon", 5)
		add(ActionFullPortSweep, "no findings yet, sweep all ports", 5)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}
