package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hexclaw/hexclaw/pkg/log"
	"github.com/hexclaw/hexclaw/pkg/router"
	"github.com/hexclaw/hexclaw/pkg/skills"
)

// Plan is the planner's output: a skill the dispatcher understands plus its
// parameters. The goal text always rides along in params.
type Plan struct {
	Skill  string
	Params map[string]any
}

// Planner turns a free-form operator goal into a Plan. It never fails; the
// worst case is the generic agent_plan skill with just the goal text.
type Planner struct {
	index  *skills.Index
	router *router.Router // nil disables model planning
	logger zerolog.Logger
}

// New builds a planner. index may be empty and router may be nil; both
// degrade to the rule-based path.
func New(index *skills.Index, r *router.Router) *Planner {
	return &Planner{index: index, router: r, logger: log.WithComponent("planner")}
}

var domainRe = regexp.MustCompile(`([a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}`)
var atSkillRe = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Keyword table for the rule-based fallback, checked in order.
var keywordSkills = []struct {
	skill    string
	keywords []string
}{
	{"recon_osint", []string{"scan", "recon", "subdomain", "vuln", "nuclei", "osint", "enumerate", "port"}},
	{"dev_ops", []string{"git", "clone", "deploy", "lint", "test", "pipeline"}},
	{"autonomous_coder", []string{"code", "script", "app", "write", "python", "build"}},
	{"osint_mapping", []string{"breach", "social", "darkweb", "email", "leak"}},
}

const planSystem = `You translate a security-operator goal into a JSON object
{"skill": "...", "params": {...}} choosing skill from: recon_osint, dev_ops,
autonomous_coder, osint_mapping, agent_plan. params must include "target"
when a host or domain is named. Return ONLY the JSON object.`

// Resolve produces a plan for goal. Resolution order: explicit @name skill
// reference, model planning when a provider is available, rule-based keyword
// match.
func (p *Planner) Resolve(ctx context.Context, goal string) Plan {
	goal = strings.TrimSpace(goal)

	if m := atSkillRe.FindStringSubmatch(goal); m != nil && p.index != nil {
		if entry, ok := p.index.ByName(m[1]); ok {
			// Hand the dispatcher the entry's own skill file, not a
			// symbolic wrapper it cannot load.
			return Plan{
				Skill: entry.SkillName(),
				Params: map[string]any{
					"goal":        goal,
					"skill_id":    entry.ID,
					"description": entry.Description,
					"target":      p.extractTarget(goal),
				},
			}
		}
		p.logger.Debug().Str("name", m[1]).Msg("Unknown @skill reference, falling through")
	}

	if p.router != nil && p.router.HasProviders() {
		if plan, ok := p.modelPlan(ctx, goal); ok {
			return plan
		}
	}

	return p.rulePlan(goal)
}

func (p *Planner) modelPlan(ctx context.Context, goal string) (Plan, bool) {
	text := p.router.Ask(ctx, router.Request{
		Prompt:    goal,
		Tier:      router.TierLow,
		System:    planSystem,
		MaxTokens: 256,
	})
	if router.Unavailable(text) {
		return Plan{}, false
	}

	var parsed struct {
		Skill  string         `json:"skill"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(text)), &parsed); err != nil || parsed.Skill == "" {
		return Plan{}, false
	}
	if !knownSkill(parsed.Skill) {
		return Plan{}, false
	}
	if parsed.Params == nil {
		parsed.Params = map[string]any{}
	}
	parsed.Params["goal"] = goal
	if _, ok := parsed.Params["target"]; !ok {
		parsed.Params["target"] = p.extractTarget(goal)
	}
	return Plan{Skill: parsed.Skill, Params: parsed.Params}, true
}

func (p *Planner) rulePlan(goal string) Plan {
	params := map[string]any{
		"goal":   goal,
		"target": p.extractTarget(goal),
	}

	lower := strings.ToLower(goal)
	for _, entry := range keywordSkills {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return Plan{Skill: entry.skill, Params: params}
			}
		}
	}
	return Plan{Skill: "agent_plan", Params: params}
}

func (p *Planner) extractTarget(goal string) string {
	if m := domainRe.FindString(strings.ToLower(goal)); m != "" {
		return m
	}
	return "unknown"
}

func knownSkill(name string) bool {
	if name == "agent_plan" {
		return true
	}
	for _, entry := range keywordSkills {
		if entry.skill == name {
			return true
		}
	}
	return false
}

// extractJSONObject pulls the first {...} slice out of a model response.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return text
	}
	return text[start : end+1]
}
