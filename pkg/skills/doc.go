// Package skills loads workflow definitions and the named-skill catalogue.
//
// A skill is a YAML file of ordered steps; the dispatcher executes them
// against the tool server. The catalogue (skills_index.json) names external
// skill references for @name planner lookups and operator search.
package skills
