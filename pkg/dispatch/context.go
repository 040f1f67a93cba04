package dispatch

import "github.com/hexclaw/hexclaw/pkg/types"

// jobContext is the per-job working state threaded through a skill chain:
// typed fields for the well-known keys plus a side bag for everything else
// the params carried.
type jobContext struct {
	Target    string
	Artifacts map[string]string         // artifact name -> file path
	Results   map[string]map[string]any // tool name -> decoded result
	Findings  []types.Finding
	Extra     map[string]any
}

func newJobContext(job types.Job) *jobContext {
	jc := &jobContext{
		Target:    job.Target,
		Artifacts: make(map[string]string),
		Results:   make(map[string]map[string]any),
		Extra:     make(map[string]any),
	}
	for k, v := range job.Params {
		switch k {
		case "target":
			// already denormalized
		default:
			jc.Extra[k] = v
		}
	}
	if jc.Target == "" {
		jc.Target = "unknown"
	}
	return jc
}
