package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hexclaw/hexclaw/pkg/types"
)

// ErrNotFound is returned when no skill file exists for a name.
var ErrNotFound = errors.New("skill not found")

// Loader reads skill definitions from a directory of YAML files, one skill
// per file, named <skill>.yaml (or .yml).
type Loader struct {
	dir string
}

// NewLoader creates a loader over dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the skill directory.
func (l *Loader) Dir() string { return l.dir }

// Load reads and validates one skill by name.
func (l *Loader) Load(name string) (types.Skill, error) {
	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(l.dir, name+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		return types.Skill{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var skill types.Skill
	if err := yaml.Unmarshal(data, &skill); err != nil {
		return types.Skill{}, fmt.Errorf("parse skill %s: %w", name, err)
	}
	if skill.Name == "" {
		skill.Name = name
	}
	if err := validate(skill); err != nil {
		return types.Skill{}, fmt.Errorf("invalid skill %s: %w", name, err)
	}
	return skill, nil
}

// List returns the names of every skill file in the directory.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name()[:len(e.Name())-len(ext)])
		}
	}
	return names, nil
}

func validate(skill types.Skill) error {
	if len(skill.Steps) == 0 {
		return errors.New("no steps")
	}
	for i, step := range skill.Steps {
		if step.Tool == "" && step.Action == "" {
			return fmt.Errorf("step %d has neither tool nor action", i+1)
		}
		if step.Action != "" && step.Action != types.ActionStoreFindings && step.Action != types.ActionSuggestNext {
			return fmt.Errorf("step %d has unknown action %q", i+1, step.Action)
		}
	}
	return nil
}
