package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serkansepil/agent-planner-sub001/agent"
	"github.com/serkansepil/agent-planner-sub001/types"
)

func testAgents() []*agent.Agent {
	return []*agent.Agent{
		{ID: "w1", Model: "m", Role: "writer", Capabilities: []string{"write"}},
		{ID: "w2", Model: "m", Role: "writer", Capabilities: []string{"write", "review"}},
		{ID: "r1", Model: "m", Role: "reviewer", Capabilities: []string{"review"}},
		{ID: "ops", Model: "m", Role: "ops"},
	}
}

func TestAssigner_Pick(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		task *task
		load map[string]int
		want string
		used bool
	}{
		{"declaration order breaks ties", &task{id: "t"}, nil, "w1", false},
		{"capabilities filter", &task{id: "t", capabilities: []string{"review"}}, nil, "w2", false},
		{"preferred role wins over order", &task{id: "t", capabilities: []string{"review"}, role: "reviewer"}, nil, "r1", false},
		{"unknown role ignored", &task{id: "t", capabilities: []string{"review"}, role: "pilot"}, nil, "w2", false},
		{"least loaded", &task{id: "t", capabilities: []string{"write"}}, map[string]int{"w1": 2, "w2": 1}, "w2", false},
		{"role before load", &task{id: "t", role: "writer"}, map[string]int{"w1": 1, "w2": 1, "ops": 0}, "w1", false},
		{"fallback when none qualify", &task{id: "t", capabilities: []string{"deploy"}, fallbackID: "ops"}, nil, "ops", true},
		{"forced agent", &task{id: "t", capabilities: []string{"deploy"}, forcedAgent: "r1"}, nil, "r1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssigner(testAgents())
			for id, n := range tt.load {
				a.load[id] = n
			}
			got, err := a.pick(tt.task)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
			assert.Equal(t, tt.used, tt.task.fallbackUsed)
		})
	}
}

func TestAssigner_NoEligibleAgent(t *testing.T) {
	t.Parallel()
	a := newAssigner(testAgents())

	for _, tk := range []*task{
		{id: "t", capabilities: []string{"deploy"}},
		{id: "t", capabilities: []string{"deploy"}, fallbackID: "ghost"},
		{id: "t", forcedAgent: "ghost"},
	} {
		_, err := a.pick(tk)
		require.Error(t, err)
		assert.Equal(t, types.ErrNoEligibleAgent, types.GetErrorCode(err))
		e, ok := types.AsError(err)
		require.True(t, ok)
		assert.Equal(t, "t", e.TaskID)
	}

	_, err := newAssigner(nil).pick(&task{id: "t"})
	assert.Equal(t, types.ErrNoEligibleAgent, types.GetErrorCode(err))
}

func TestAssigner_LoadAccounting(t *testing.T) {
	t.Parallel()
	a := newAssigner(testAgents())
	a.acquire("w1")
	a.acquire("w1")
	a.release("w1")
	a.release("w1")
	a.release("w1")
	assert.Equal(t, 0, a.load["w1"])
	assert.True(t, a.has("ops"))
	assert.False(t, a.has("ghost"))
}
