package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsFromMap(t *testing.T) {
	raw := map[string]any{
		"name":          "Design review",
		"start":         "2026-03-02T14:00:00Z",
		"end_time":      "2026-03-02 15:00",
		"workspace":     "Default",
		"isAllDay":      "false",
		"tags":          []any{"design", " review "},
		"assigneeNames": "Ana, Bo",
		"mood":          "happy",
		"location":      42,
	}

	f, rejected := FieldsFromMap(raw)

	require.NotNil(t, f.Name)
	assert.Equal(t, "Design review", *f.Name)
	require.NotNil(t, f.Start)
	assert.True(t, f.Start.Equal(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)))
	require.NotNil(t, f.End)
	assert.Equal(t, 15, f.End.Hour())
	assert.Equal(t, "Default", *f.WorkspaceName)
	assert.False(t, *f.IsAllDay)
	assert.Equal(t, []string{"design", "review"}, f.Tags)
	assert.Equal(t, []string{"Ana", "Bo"}, f.AssigneeNames)
	assert.Equal(t, []string{"location", "mood"}, rejected)
}

func TestFieldsFromMap_EmptyStringsAreAbsent(t *testing.T) {
	f, rejected := FieldsFromMap(map[string]any{"name": "  ", "description": nil})

	assert.Nil(t, f.Name)
	assert.Nil(t, f.Description)
	assert.Empty(t, rejected)
}

func TestEventFields_Predicates(t *testing.T) {
	var f EventFields
	assert.False(t, f.HasWorkspace())
	assert.False(t, f.HasEventRef())
	assert.False(t, f.HasChanges())

	f.WorkspaceName = Ptr("Default")
	f.EventName = Ptr("Standup")
	f.Location = Ptr("Room 1")
	assert.True(t, f.HasWorkspace())
	assert.True(t, f.HasEventRef())
	assert.True(t, f.HasChanges())
}

func TestFieldSet_Union(t *testing.T) {
	a := NewFieldSet("b", "a", "b")
	assert.Equal(t, FieldSet{"a", "b"}, a)
	assert.Equal(t, FieldSet{"a", "b", "c"}, a.Union(FieldSet{"c", "a"}))
	assert.Nil(t, FieldSet{}.Union(nil))
	assert.True(t, a.Contains("a"))
	assert.False(t, a.Contains("z"))
}
