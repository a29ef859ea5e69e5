package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopologicalOrder(t *testing.T) {
	t.Run("dependencies first", func(t *testing.T) {
		p := &Plan{Tasks: []Task{
			{ID: "t3", Dependencies: []string{"t1", "t2"}},
			{ID: "t1"},
			{ID: "t2", Dependencies: []string{"t1"}},
		}}
		assert.Equal(t, []string{"t1", "t2", "t3"}, p.TopologicalOrder())
	})

	t.Run("independent tasks keep declaration order", func(t *testing.T) {
		p := &Plan{Tasks: []Task{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
		assert.Equal(t, []string{"a", "b", "c"}, p.TopologicalOrder())
	})

	t.Run("cycle still terminates", func(t *testing.T) {
		p := &Plan{Tasks: []Task{
			{ID: "t1", Dependencies: []string{"t2"}},
			{ID: "t2", Dependencies: []string{"t1"}},
			{ID: "t3"},
		}}
		order := p.TopologicalOrder()
		assert.Len(t, order, 3)
		assert.Equal(t, "t3", order[0], "resolvable task first")
	})

	t.Run("missing dependency is tolerated", func(t *testing.T) {
		p := &Plan{Tasks: []Task{{ID: "t1", Dependencies: []string{"ghost"}}}}
		assert.Equal(t, []string{"t1"}, p.TopologicalOrder())
	})
}

func TestTaskByID(t *testing.T) {
	p := &Plan{Tasks: []Task{{ID: "t1", Title: "first"}, {ID: "t2"}}}

	got := p.TaskByID("t1")
	if assert.NotNil(t, got) {
		assert.Equal(t, "first", got.Title)
	}
	assert.Nil(t, p.TaskByID("ghost"))
}

func TestLayoutHelpers(t *testing.T) {
	assert.Equal(t, "/p/.workflow", WorkflowDir("/p"))
	assert.Equal(t, "/p/.workflow/escalations", EscalationsDir("/p"))
	assert.Equal(t, "/p/.workflow/unified_logs/t1", UnifiedLogsDir("/p", "t1"))
	assert.Equal(t, "/p/.workflow/temp/t1/builder", TempDir("/p", "t1", "builder"))
	assert.Equal(t, "/p/.workflow/sessions/t1", SessionDir("/p", "t1"))
}
