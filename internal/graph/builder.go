package graph

import (
	"fmt"

	"github.com/dbsmedya/gobackfill/internal/config"
)

// Builder constructs a dependency graph from job configuration.
type Builder struct {
	jobs map[string]config.JobConfig
}

// NewBuilder creates a builder over the configured jobs.
func NewBuilder(jobs map[string]config.JobConfig) *Builder {
	return &Builder{jobs: jobs}
}

// Build adds every job and its depends_on edges, then rejects cycles.
func (b *Builder) Build() (*Graph, error) {
	if len(b.jobs) == 0 {
		return nil, fmt.Errorf("no jobs configured")
	}

	g := NewGraph()
	for name, job := range b.jobs {
		g.AddNode(name, &Node{Type: job.Type, Description: job.Description})
	}

	for name, job := range b.jobs {
		seen := make(map[string]bool, len(job.DependsOn))
		for _, dep := range job.DependsOn {
			if dep == name {
				return nil, fmt.Errorf("job %q depends on itself", name)
			}
			if !g.HasNode(dep) {
				return nil, fmt.Errorf("job %q depends on unknown job %q", name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.AddEdge(dep, name)
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}
	return g, nil
}

// BuildFromConfig builds the job graph of cfg.
func BuildFromConfig(cfg *config.Config) (*Graph, error) {
	return NewBuilder(cfg.Jobs).Build()
}

// RunOrder returns the configured jobs in dependency order.
func RunOrder(cfg *config.Config) ([]string, error) {
	g, err := BuildFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return g.TopologicalSort()
}
