// Package plan loads and validates observation plans: YAML documents
// naming the steps of a run and the dependencies between them.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gammazero/toposort"
	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/astrosched/astrosched/internal/scheduler"
)

// Dependency-failure modes a step may declare.
const (
	DepCancel   = "cancel"   // cancel the step when a dependency fails (default)
	DepContinue = "continue" // run the step anyway and let it inspect outcomes
)

// Step is one operation in a plan.
type Step struct {
	ID           string         `yaml:"id"`
	Op           string         `yaml:"op"`
	Params       map[string]any `yaml:"params,omitempty"`
	Needs        []string       `yaml:"needs,omitempty"`
	OnDepFailure string         `yaml:"on_dep_failure,omitempty"`
}

// Policy maps the step's dependency-failure mode onto the scheduler's.
func (s Step) Policy() scheduler.DepPolicy {
	if s.OnDepFailure == DepContinue {
		return scheduler.TolerateFailure
	}
	return scheduler.RequireSuccess
}

// Plan is a named set of steps forming a DAG.
type Plan struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load reads and validates a plan file. A plan without a name takes the
// file's base name.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// Parse decodes and validates a plan document.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that steps are present, ids are unique, every step names
// an op, needs resolve to declared steps, failure modes are known, and the
// dependency graph is acyclic.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	ids := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d has no id", i+1)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = true

		if s.Op == "" {
			return fmt.Errorf("step %q has no op", s.ID)
		}
		switch s.OnDepFailure {
		case "", DepCancel, DepContinue:
		default:
			return fmt.Errorf("step %q: unknown on_dep_failure %q", s.ID, s.OnDepFailure)
		}
	}

	for _, s := range p.Steps {
		for _, dep := range s.Needs {
			if dep == s.ID {
				return fmt.Errorf("step %q needs itself", s.ID)
			}
			if !ids[dep] {
				return fmt.Errorf("step %q needs unknown step %q", s.ID, dep)
			}
		}
	}

	_, err := p.Order()
	return err
}

// Order returns the step ids in dependency order, or an error if the
// graph contains a cycle.
func (p *Plan) Order() ([]string, error) {
	var edges []toposort.Edge
	for _, s := range p.Steps {
		if len(s.Needs) == 0 {
			// Step with no dependencies - edge from nil keeps it in the sort
			edges = append(edges, toposort.Edge{nil, s.ID})
			continue
		}
		for _, dep := range s.Needs {
			edges = append(edges, toposort.Edge{dep, s.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("step cycle: %w", err)
	}

	order := make([]string, 0, len(p.Steps))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// Step returns the step with the given id.
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Fingerprint hashes the plan's content, so the journal can tie runs of
// the same plan together even when the file moves.
func (p *Plan) Fingerprint() (uint64, error) {
	return hashstructure.Hash(p, hashstructure.FormatV2, nil)
}
