package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_Shape1_ActionsList(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"robot_id": "robot-1",
		"actions":  []any{"go_forward", map[string]any{"action_name": "stop"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "robot-1", spec.RobotID)
	assert.Equal(t, []string{"go_forward", "stop"}, spec.Actions)
}

func TestProcess_Shape1_ActionsListWithCommandKey(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"actions": []any{map[string]any{"command": "wave"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"wave"}, spec.Actions)
	assert.Equal(t, "default", spec.RobotID) // robot_id falls back
}

func TestProcess_Shape2_ActionName(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{"action_name": "stand", "robot_id": "robot-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"stand"}, spec.Actions)
	assert.Equal(t, "robot-2", spec.RobotID)
}

func TestProcess_Shape3_CommandTargetParams(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"command": map[string]any{
			"target": map[string]any{"robot_id": "robot-3"},
			"params": map[string]any{"action_name": "bow"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "robot-3", spec.RobotID)
	assert.Equal(t, []string{"bow"}, spec.Actions)
}

func TestProcess_Shape3_CommandParamsActionsList(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"command": map[string]any{
			"params": map[string]any{"actions": []any{"turn_left", "turn_right"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"turn_left", "turn_right"}, spec.Actions)
}

func TestProcess_Shape4_BaseCommandsSkipsWaitAndAdvanced(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"base_commands": []any{
			map[string]any{"command": "stand"},
			map[string]any{"command": "wait"},
			map[string]any{"command": "advanced_command"},
			map[string]any{"command": "stop"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"stand", "stop"}, spec.Actions)
}

func TestProcess_Shape5_LegacyToolName(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{"toolName": "squat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"squat"}, spec.Actions)
}

func TestProcess_ShapePrecedence_ActionsListWinsOverActionName(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{
		"actions":     []any{"go_forward"},
		"action_name": "stop",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"go_forward"}, spec.Actions)
}

func TestProcess_InvalidActionFilteredOutWithCallback(t *testing.T) {
	var invalid []string
	p := &Processor{OnInvalidAction: func(action string) { invalid = append(invalid, action) }}

	spec, err := p.Process(map[string]any{"actions": []any{"go_forward", "fly_to_moon"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"go_forward"}, spec.Actions)
	assert.Equal(t, []string{"fly_to_moon"}, invalid)
}

func TestProcess_EmptyPayloadYieldsNoActionsNotError(t *testing.T) {
	p := NewProcessor()
	spec, err := p.Process(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "default", spec.RobotID)
	assert.Empty(t, spec.Actions)
}

func TestNoopDispatcher_RejectsEmptyRobotID(t *testing.T) {
	d := NoopDispatcher()
	ok, err := d.Dispatch("", []string{"stand"})
	assert.False(t, ok)
	assert.Error(t, err)

	ok, err = d.Dispatch("robot-1", []string{"stand"})
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestIsValidAction(t *testing.T) {
	assert.True(t, IsValidAction("go_forward"))
	assert.True(t, IsValidAction("dance_two"))
	assert.False(t, IsValidAction("fly"))
}
