package animation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	calls []string
}

func (r *recordingTarget) SetFloat(name string, v float64) {
	r.calls = append(r.calls, "float:"+name)
}
func (r *recordingTarget) SetInteger(name string, v int) {
	r.calls = append(r.calls, "int:"+name)
}
func (r *recordingTarget) SetBool(name string, v bool) {
	r.calls = append(r.calls, "bool:"+name)
}
func (r *recordingTarget) SetTrigger(name string) {
	r.calls = append(r.calls, "trigger:"+name)
}

func TestApply_DispatchesOnTypeTag(t *testing.T) {
	target := &recordingTarget{}
	require.NoError(t, Apply(target, Float("speed", 1.5)))
	require.NoError(t, Apply(target, Int("stage", 2)))
	require.NoError(t, Apply(target, Bool("open", true)))
	require.NoError(t, Apply(target, Trigger("wave")))
	// Type tag wins over value shape.
	require.NoError(t, Apply(target, Param{Name: "mixed", Type: TypeBool, Float: 3}))

	assert.Equal(t, []string{"float:speed", "int:stage", "bool:open", "trigger:wave", "bool:mixed"}, target.calls)
}

func TestApply_UnknownType(t *testing.T) {
	target := &recordingTarget{}
	err := Apply(target, Param{Name: "x", Type: ValueType(9)})
	assert.Error(t, err)
	assert.Empty(t, target.calls)
}

func TestParseValueType(t *testing.T) {
	for _, vt := range []ValueType{TypeFloat, TypeInt, TypeBool, TypeTrigger} {
		got, err := ParseValueType(vt.String())
		require.NoError(t, err)
		assert.Equal(t, vt, got)
	}
	_, err := ParseValueType("vector")
	assert.Error(t, err)
}
