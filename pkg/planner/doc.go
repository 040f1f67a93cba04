// Package planner maps operator goals to dispatchable skills.
//
// Resolution is total: an explicit @name reference wins, then optional model
// planning, then keyword rules, then the generic agent_plan skill. Every goal
// produces a plan.
package planner
