// Package registry holds the static catalogue of agent capabilities,
// reviewer assignments, and file-write permissions. The table is built once
// at process start and never mutated.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Registry is an immutable lookup table of agent descriptors.
type Registry struct {
	agents map[string]core.AgentSpec
}

// New creates a registry from the given specs. Passing none loads the
// default catalogue.
func New(specs ...core.AgentSpec) *Registry {
	if len(specs) == 0 {
		specs = defaultCatalogue()
	}
	agents := make(map[string]core.AgentSpec, len(specs))
	for _, s := range specs {
		agents[s.ID] = s
	}
	return &Registry{agents: agents}
}

// Get retrieves an agent descriptor by id.
func (r *Registry) Get(id string) (core.AgentSpec, error) {
	spec, ok := r.agents[id]
	if !ok {
		return core.AgentSpec{}, core.ErrNotFound("agent", id)
	}
	return spec, nil
}

// ReviewersOf returns the reviewer specs assigned to an agent.
func (r *Registry) ReviewersOf(id string) ([]core.AgentSpec, error) {
	spec, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	reviewers := make([]core.AgentSpec, 0, len(spec.Reviewers))
	for _, rid := range spec.Reviewers {
		rev, err := r.Get(rid)
		if err != nil {
			return nil, fmt.Errorf("resolving reviewer %s of %s: %w", rid, id, err)
		}
		reviewers = append(reviewers, rev)
	}
	return reviewers, nil
}

// All returns every descriptor, ordered by id.
func (r *Registry) All() []core.AgentSpec {
	all := make([]core.AgentSpec, 0, len(r.agents))
	for _, s := range r.agents {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// FilterByCLI returns descriptors whose primary CLI matches the family.
func (r *Registry) FilterByCLI(family core.CLIFamily) []core.AgentSpec {
	var out []core.AgentSpec
	for _, s := range r.All() {
		if s.PrimaryCLI == family {
			out = append(out, s)
		}
	}
	return out
}

// IsWritablePath reports whether the agent may write the given path.
// Deny if the agent cannot write files at all; deny on any forbidden glob
// match; if allowed globs are configured, require at least one match.
func (r *Registry) IsWritablePath(id, path string) (bool, error) {
	spec, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if !spec.CanWriteFiles {
		return false, nil
	}

	clean := filepath.ToSlash(filepath.Clean(path))

	for _, g := range spec.ForbiddenPathGlobs {
		if match, _ := doublestar.Match(g, clean); match {
			return false, nil
		}
	}
	if len(spec.AllowedPathGlobs) == 0 {
		return true, nil
	}
	for _, g := range spec.AllowedPathGlobs {
		if match, _ := doublestar.Match(g, clean); match {
			return true, nil
		}
	}
	return false, nil
}

// defaultCatalogue is the compile-time-known agent table. Every working
// agent carries at least two reviewers from different CLI families.
func defaultCatalogue() []core.AgentSpec {
	return []core.AgentSpec{
		{
			ID:                 "planner",
			Name:               "Planning Agent",
			PrimaryCLI:         core.FamilyClaude,
			BackupCLI:          core.FamilyCursor,
			Reviewers:          []string{"reviewer-security", "reviewer-quality"},
			FallbackReviewer:   "reviewer-style",
			CanWriteFiles:      true,
			AllowedPathGlobs:   []string{"docs/**", "*.md", ".workflow/**"},
			MaxIterations:      3,
			Timeout:            20 * time.Minute,
			ConflictWeight:     0.5,
			SupportsLoop:       false,
			CompletionPatterns: []string{"PLAN_COMPLETE"},
			AvailableModels:    []string{"sonnet", "opus"},
			DefaultModel:       "sonnet",
		},
		{
			ID:                 "builder",
			Name:               "Implementation Agent",
			PrimaryCLI:         core.FamilyClaude,
			BackupCLI:          core.FamilyCursor,
			ContextFilePath:    ".workflow/context/builder.md",
			Reviewers:          []string{"reviewer-security", "reviewer-quality"},
			FallbackReviewer:   "reviewer-style",
			CanWriteFiles:      true,
			ForbiddenPathGlobs: []string{".git/**", ".workflow/audit/**"},
			MaxIterations:      10,
			Timeout:            30 * time.Minute,
			ConflictWeight:     0.5,
			SupportsLoop:       true,
			CompletionPatterns: []string{"TASK_COMPLETE"},
			AvailableModels:    []string{"sonnet", "opus", "haiku"},
			DefaultModel:       "sonnet",
		},
		{
			ID:                 "test-writer",
			Name:               "Test Authoring Agent",
			PrimaryCLI:         core.FamilyCursor,
			BackupCLI:          core.FamilyGemini,
			Reviewers:          []string{"reviewer-quality", "reviewer-style"},
			CanWriteFiles:      true,
			AllowedPathGlobs:   []string{"**/*_test.go", "tests/**", "**/test_*.py", "**/*.spec.ts"},
			ForbiddenPathGlobs: []string{".git/**"},
			MaxIterations:      5,
			Timeout:            20 * time.Minute,
			ConflictWeight:     0.5,
			SupportsLoop:       true,
			CompletionPatterns: []string{"TESTS_COMPLETE", "DONE"},
			AvailableModels:    []string{"default"},
			DefaultModel:       "default",
		},
		{
			ID:                 "fixer",
			Name:               "Auto-Heal Agent",
			PrimaryCLI:         core.FamilyClaude,
			BackupCLI:          core.FamilyGemini,
			Reviewers:          []string{"reviewer-security", "reviewer-style"},
			CanWriteFiles:      true,
			ForbiddenPathGlobs: []string{".git/**", ".workflow/**"},
			MaxIterations:      5,
			Timeout:            15 * time.Minute,
			ConflictWeight:     0.5,
			SupportsLoop:       true,
			CompletionPatterns: []string{"FIX_COMPLETE", "TASK_COMPLETE"},
			AvailableModels:    []string{"sonnet", "haiku"},
			DefaultModel:       "sonnet",
		},
		{
			ID:                   "reviewer-security",
			Name:                 "Security Reviewer",
			PrimaryCLI:           core.FamilyClaude,
			CanWriteFiles:        false,
			MaxIterations:        1,
			Timeout:              10 * time.Minute,
			IsReviewer:           true,
			ReviewSpecialization: "security",
			ConflictWeight:       0.6,
			AvailableModels:      []string{"sonnet", "opus"},
			DefaultModel:         "sonnet",
		},
		{
			ID:                   "reviewer-quality",
			Name:                 "Quality Reviewer",
			PrimaryCLI:           core.FamilyCursor,
			CanWriteFiles:        false,
			MaxIterations:        1,
			Timeout:              10 * time.Minute,
			IsReviewer:           true,
			ReviewSpecialization: "quality",
			ConflictWeight:       0.4,
			AvailableModels:      []string{"default"},
			DefaultModel:         "default",
		},
		{
			ID:                   "reviewer-style",
			Name:                 "Style Reviewer",
			PrimaryCLI:           core.FamilyGemini,
			CanWriteFiles:        false,
			MaxIterations:        1,
			Timeout:              10 * time.Minute,
			IsReviewer:           true,
			ReviewSpecialization: "style",
			ConflictWeight:       0.4,
			AvailableModels:      []string{"default"},
			DefaultModel:         "default",
		},
	}
}
