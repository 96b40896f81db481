package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstance_NameAndURL(t *testing.T) {
	inst := NewInstance("10.0.0.1", 8080, 2)

	assert.Equal(t, "10.0.0.1:8080", inst.Name())
	assert.Equal(t, "http://10.0.0.1:8080", inst.URL())
	assert.Equal(t, 2, inst.Weight)
}

func TestInstance_WeightDefaultsToOne(t *testing.T) {
	inst := NewInstance("10.0.0.1", 8080, 0)

	assert.Equal(t, 1, inst.Weight)
}

func TestInstance_StatusTransitions(t *testing.T) {
	inst := NewInstance("10.0.0.1", 8080, 1)

	assert.Equal(t, StatusUnknown, inst.Status())
	assert.True(t, inst.Selectable())

	inst.SetStatus(StatusHealthy)
	assert.Equal(t, StatusHealthy, inst.Status())
	assert.True(t, inst.Selectable())

	inst.SetStatus(StatusUnhealthy)
	assert.Equal(t, StatusUnhealthy, inst.Status())
	assert.False(t, inst.Selectable())
}

func TestInstance_Connections(t *testing.T) {
	inst := NewInstance("10.0.0.1", 8080, 1)

	assert.Equal(t, int64(0), inst.Connections())

	inst.IncrementConnections()
	inst.IncrementConnections()
	assert.Equal(t, int64(2), inst.Connections())

	inst.DecrementConnections()
	assert.Equal(t, int64(1), inst.Connections())
}

func TestInstance_LastProbed(t *testing.T) {
	inst := NewInstance("10.0.0.1", 8080, 1)

	assert.True(t, inst.LastProbed().IsZero())

	inst.MarkProbed()
	assert.False(t, inst.LastProbed().IsZero())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", Status(42).String())
}
