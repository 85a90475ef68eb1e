package recorder

import (
	"fmt"
	"testing"

	"browsernerd/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillAction(placeholder, value string) types.Action {
	return types.Action{
		Kind:   types.ActionFill,
		Target: types.Target{Primary: types.TargetCandidate{Strategy: types.ByPlaceholder, Value: placeholder}},
		Value:  value,
	}
}

func okResult() types.ActionResult {
	return types.ActionResult{Success: true, ObservedURL: "https://app.example/form"}
}

func TestRecorderLifecycle(t *testing.T) {
	r := New()
	assert.False(t, r.Recording())

	require.True(t, r.Start("signup", "records the signup flow"))
	assert.True(t, r.Recording())
	// A second start must not clobber the open recording.
	assert.False(t, r.Start("other", ""))

	r.Observe(types.Action{Kind: types.ActionNavigate, URL: "https://app.example/signup"}, okResult(), "")
	script, ok := r.Stop()
	require.True(t, ok)
	assert.False(t, r.Recording())
	assert.Equal(t, "signup", script.Name)
	assert.Equal(t, types.OriginRecorded, script.Origin)
	assert.NotEmpty(t, script.ID)
}

func TestRecorderStopWithoutStart(t *testing.T) {
	r := New()
	_, ok := r.Stop()
	assert.False(t, ok)
}

func TestRecorderStopEmptyRecording(t *testing.T) {
	r := New()
	require.True(t, r.Start("empty", ""))
	_, ok := r.Stop()
	assert.False(t, ok)
}

func TestRecorderIgnoresFailuresAndIdleObserves(t *testing.T) {
	r := New()

	// Observes before Start are dropped.
	r.Observe(fillAction("Email", "a@b.example"), okResult(), "https://app.example")

	require.True(t, r.Start("s", ""))
	r.Observe(types.Action{Kind: types.ActionNavigate, URL: "https://app.example"}, okResult(), "")
	r.Observe(fillAction("Email", "a@b.example"), types.ActionResult{Success: false}, "https://app.example")

	script, ok := r.Stop()
	require.True(t, ok)
	// Only the navigate survived: the failed fill was never captured.
	assert.Len(t, script.Actions, 1)
}

func TestRecorderSynthesizesFirstNavigate(t *testing.T) {
	r := New()
	require.True(t, r.Start("s", ""))

	// First capture is a fill: the page the user was on becomes step one.
	r.Observe(fillAction("Email", "a@b.example"), okResult(), "https://app.example/form")

	script, ok := r.Stop()
	require.True(t, ok)
	require.Len(t, script.Actions, 2)
	assert.Equal(t, types.ActionNavigate, script.Actions[0].Kind)
	assert.Equal(t, "https://app.example/form", script.InitialURL)
	assert.Equal(t, types.ActionFill, script.Actions[1].Kind)
}

func TestRecorderNoSyntheticNavigateFromBlankPage(t *testing.T) {
	r := New()
	require.True(t, r.Start("s", ""))
	r.Observe(fillAction("Email", "a@b.example"), okResult(), "about:blank")

	script, ok := r.Stop()
	require.True(t, ok)
	require.Len(t, script.Actions, 1)
	assert.Equal(t, types.ActionFill, script.Actions[0].Kind)
}

func TestRecorderSoftCap(t *testing.T) {
	r := New()
	require.True(t, r.Start("s", ""))
	r.Observe(types.Action{Kind: types.ActionNavigate, URL: "https://app.example"}, okResult(), "")
	for i := 0; i < softCap+25; i++ {
		r.Observe(fillAction("Note", fmt.Sprintf("${n}%d", i)), okResult(), "https://app.example")
	}
	script, ok := r.Stop()
	require.True(t, ok)
	assert.Len(t, script.Actions, softCap)
}
