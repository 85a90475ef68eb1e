package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsernerd/internal/browser"
	"browsernerd/internal/config"
	"browsernerd/internal/execution"
	"browsernerd/internal/store"
	"browsernerd/internal/types"
)

// sessionDriver is a scriptable browser.Driver for session-level tests.
type sessionDriver struct {
	mu         sync.Mutex
	url        string
	navCalls   int
	clickCalls int
	clickLands string
}

func (d *sessionDriver) Open(ctx context.Context) error { return nil }
func (d *sessionDriver) Close() error                   { return nil }

func (d *sessionDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navCalls++
	d.url = url
	return nil
}

func (d *sessionDriver) Click(ctx context.Context, t types.Target) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clickCalls++
	if d.clickLands != "" {
		d.url = d.clickLands
	}
	return "selector:" + t.Primary.Value, nil
}

func (d *sessionDriver) Fill(ctx context.Context, t types.Target, value string) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *sessionDriver) SelectOption(ctx context.Context, t types.Target, option string) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *sessionDriver) Extract(ctx context.Context, t types.Target) (string, string, error) {
	return "", "selector:" + t.Primary.Value, nil
}

func (d *sessionDriver) ScrollBy(ctx context.Context, direction string) error { return nil }

func (d *sessionDriver) ScrollTo(ctx context.Context, t types.Target) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *sessionDriver) WaitFor(ctx context.Context, predicate string) error { return nil }
func (d *sessionDriver) Press(ctx context.Context, key string) error         { return nil }

func (d *sessionDriver) Info(ctx context.Context) (browser.PageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return browser.PageInfo{URL: d.url}, nil
}

func (d *sessionDriver) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func (d *sessionDriver) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &types.PageSnapshot{URL: d.url}, nil
}

func (d *sessionDriver) currentURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *sessionDriver) clicks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clickCalls
}

func (d *sessionDriver) landAfterClick(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clickLands = url
}

// fakeClient records everything the session delivers.
type fakeClient struct {
	mu     sync.Mutex
	events []interface{}
	frames []FrameEvent
}

func (c *fakeClient) Deliver(ev interface{}, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fakeClient) DeliverFrame(ev FrameEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, ev)
}

func (c *fakeClient) BufferDepth() float64 { return 0 }

func (c *fakeClient) all() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.events...)
}

// blockingClient lets the attach status through, then parks every delivery
// until released.
type blockingClient struct {
	first    sync.Once
	parkOnce sync.Once
	parked   chan struct{}
	release  chan struct{}
}

func (c *blockingClient) Deliver(ev interface{}, critical bool) {
	pass := false
	c.first.Do(func() { pass = true })
	if pass {
		return
	}
	c.parkOnce.Do(func() { close(c.parked) })
	<-c.release
}

func (c *blockingClient) DeliverFrame(FrameEvent) {}
func (c *blockingClient) BufferDepth() float64    { return 0 }

// waitFor polls until one delivered event satisfies pred.
func waitFor[T any](t *testing.T, c *fakeClient, pred func(T) bool) T {
	t.Helper()
	var found T
	require.Eventually(t, func() bool {
		for _, ev := range c.all() {
			if typed, ok := ev.(T); ok && pred(typed) {
				found = typed
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)
	return found
}

func waitForError(t *testing.T, c *fakeClient, kind types.ErrorKind) ErrorEvent {
	t.Helper()
	return waitFor(t, c, func(ev ErrorEvent) bool { return ev.Kind == kind })
}

func testConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Execution.RetryBase = time.Millisecond
	return cfg
}

func newTestSession(t *testing.T) (*Session, *sessionDriver, *fakeClient) {
	t.Helper()
	cfg := testConfig(t)
	st, err := store.Open(cfg.Storage.Root, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	drv := &sessionDriver{url: "https://app.example"}
	s, err := newSession(context.Background(), "sess-1", cfg, st, nil, drv)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	c := &fakeClient{}
	s.Attach(c)
	return s, drv, c
}

func TestSessionAttach(t *testing.T) {
	s, _, c := newTestSession(t)

	ev := waitFor(t, c, func(ev StatusEvent) bool { return ev.State == "attached" })
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.False(t, ev.ManualMode)
	assert.False(t, ev.Recording)
	assert.Equal(t, 1, s.ClientCount())
}

func TestSessionUnknownMessage(t *testing.T) {
	s, _, c := newTestSession(t)

	s.Handle(Message{Type: "dance"})
	ev := waitForError(t, c, types.KindUnknownMessage)
	assert.Contains(t, ev.Message, "dance")
}

func TestSessionChatInstruction(t *testing.T) {
	s, drv, c := newTestSession(t)

	s.Handle(Message{Type: "chat_instruction", Instruction: "go to shop.example/cart"})
	ev := waitFor(t, c, func(ev InstructionEvent) bool { return ev.Executed == 1 })
	assert.Equal(t, "pattern", ev.Source)
	assert.Equal(t, 1, ev.ActionCount)
	assert.Equal(t, "https://shop.example/cart", drv.currentURL())
}

func TestSessionRecordingFlow(t *testing.T) {
	s, _, c := newTestSession(t)

	s.Handle(Message{Type: "start_recording", Name: "cart_walkthrough"})
	waitFor(t, c, func(ev RecordingStartedEvent) bool { return ev.Name == "cart_walkthrough" })

	s.Handle(Message{Type: "chat_instruction", Instruction: "go to shop.example/cart"})
	waitFor(t, c, func(ev InstructionEvent) bool { return ev.Executed == 1 })

	// A second start while one is open is refused.
	s.Handle(Message{Type: "start_recording", Name: "other"})
	waitForError(t, c, types.KindBusy)

	s.Handle(Message{Type: "stop_recording"})
	done := waitFor(t, c, func(ev RecordingCompletedEvent) bool { return ev.Name == "cart_walkthrough" })
	require.NotEmpty(t, done.ScriptID)
	assert.Equal(t, 1, done.ActionCount)

	script, err := s.store.Load(done.ScriptID)
	require.NoError(t, err)
	assert.Equal(t, types.OriginRecorded, script.Origin)
	assert.Equal(t, "https://shop.example/cart", script.InitialURL)
}

func TestSessionRecordingEntryFromPreActionURL(t *testing.T) {
	s, drv, c := newTestSession(t)

	s.Handle(Message{Type: "chat_instruction", Instruction: "go to shop.example/cart"})
	waitFor(t, c, func(ev InstructionEvent) bool { return ev.Executed == 1 })

	// The first recorded action is a click that itself navigates; the
	// synthesized entry must be the page the click started from.
	drv.landAfterClick("https://shop.example/thanks")
	s.Handle(Message{Type: "start_recording", Name: "checkout"})
	waitFor(t, c, func(ev RecordingStartedEvent) bool { return ev.Name == "checkout" })

	s.Handle(Message{Type: "toggle_manual_mode"})
	waitFor(t, c, func(ev StatusEvent) bool { return ev.ManualMode })

	s.Handle(Message{Type: "click", Selector: "#checkout"})
	require.Eventually(t, func() bool { return drv.clicks() == 1 },
		3*time.Second, 5*time.Millisecond)

	s.Handle(Message{Type: "stop_recording"})
	done := waitFor(t, c, func(ev RecordingCompletedEvent) bool { return ev.Name == "checkout" })
	assert.Equal(t, 2, done.ActionCount)

	script, err := s.store.Load(done.ScriptID)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/cart", script.InitialURL)
	require.Len(t, script.Actions, 2)
	assert.Equal(t, types.ActionNavigate, script.Actions[0].Kind)

	v, ok := script.Variables.Lookup("cart_url")
	require.True(t, ok)
	assert.Equal(t, "https://shop.example/cart", v.Value)
}

func TestSessionSlowClientDoesNotHoldLock(t *testing.T) {
	s, _, _ := newTestSession(t)

	bc := &blockingClient{parked: make(chan struct{}), release: make(chan struct{})}
	s.Attach(bc)

	delivered := make(chan struct{})
	go func() {
		s.Emit(execution.ControlEvent{Type: "execution_paused", ExecutionID: "x"})
		close(delivered)
	}()
	<-bc.parked

	// A blocked delivery must not stall anything that takes the session lock.
	counted := make(chan int, 1)
	go func() { counted <- s.ClientCount() }()
	select {
	case n := <-counted:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("session lock held while a delivery was blocked")
	}

	close(bc.release)
	<-delivered
}

func TestSessionStopRecordingWithoutStart(t *testing.T) {
	s, _, c := newTestSession(t)

	s.Handle(Message{Type: "stop_recording"})
	ev := waitForError(t, c, types.KindNotFound)
	assert.Contains(t, ev.Message, "no recording")
}

func TestSessionManualModeGating(t *testing.T) {
	s, drv, c := newTestSession(t)

	t.Run("raw input needs manual mode", func(t *testing.T) {
		s.Handle(Message{Type: "click", Selector: "#buy"})
		ev := waitForError(t, c, types.KindSchemaMismatch)
		assert.Contains(t, ev.Message, "manual mode")
		assert.Equal(t, 0, drv.clicks())
	})

	t.Run("navigate works without manual mode", func(t *testing.T) {
		s.Handle(Message{Type: "navigate", URL: "https://docs.example"})
		require.Eventually(t, func() bool {
			return drv.currentURL() == "https://docs.example"
		}, 3*time.Second, 5*time.Millisecond)
	})

	t.Run("toggle unlocks raw input", func(t *testing.T) {
		s.Handle(Message{Type: "toggle_manual_mode"})
		waitFor(t, c, func(ev StatusEvent) bool { return ev.State == "manual_mode_on" && ev.ManualMode })

		s.Handle(Message{Type: "click", Selector: "#buy"})
		require.Eventually(t, func() bool { return drv.clicks() == 1 },
			3*time.Second, 5*time.Millisecond)
	})
}

func TestSessionExecuteScript(t *testing.T) {
	s, drv, c := newTestSession(t)

	script := &types.Script{
		ID:         "s1",
		Name:       "open_cart",
		Origin:     types.OriginRecorded,
		InitialURL: "https://shop.example/cart",
		Actions: []types.Action{
			{Kind: types.ActionNavigate, URL: "https://shop.example/cart", Description: "open cart"},
			{
				Kind:        types.ActionClick,
				Target:      types.Target{Primary: types.TargetCandidate{Strategy: types.ByText, Value: "Checkout"}},
				Description: "click checkout",
			},
		},
	}
	_, err := s.store.Save(script)
	require.NoError(t, err)

	s.Handle(Message{Type: "execute_script", ScriptID: "s1"})
	term := waitFor(t, c, func(ev execution.TerminalEvent) bool { return ev.Type == "execution_completed" })
	assert.Equal(t, types.StatusCompleted, term.Status)
	assert.Equal(t, 1, drv.clicks())
	assert.Equal(t, "https://shop.example/cart", drv.currentURL())

	require.Eventually(t, func() bool {
		got, err := s.store.Load("s1")
		return err == nil && got.LastRunAt != nil
	}, 3*time.Second, 5*time.Millisecond)

	t.Run("unknown script id", func(t *testing.T) {
		s.Handle(Message{Type: "execute_script", ScriptID: "ghost"})
		waitForError(t, c, types.KindNotFound)
	})
}

func TestSessionScriptQueries(t *testing.T) {
	s, _, c := newTestSession(t)

	script := &types.Script{
		ID:         "s1",
		Name:       "login",
		Origin:     types.OriginRecorded,
		InitialURL: "https://app.example/login",
		Actions: []types.Action{
			{Kind: types.ActionNavigate, URL: "https://app.example/login", Description: "go to login"},
			{
				Kind:        types.ActionFill,
				Target:      types.Target{Primary: types.TargetCandidate{Strategy: types.ByPlaceholder, Value: "Email"}},
				Value:       "${email}",
				Description: "fill email",
			},
		},
		Variables: types.VariableSchema{
			{Name: "email", Kind: types.VarEmail, Required: true},
		},
	}
	_, err := s.store.Save(script)
	require.NoError(t, err)

	s.Handle(Message{Type: "get_scripts"})
	list := waitFor(t, c, func(ev ScriptListEvent) bool { return len(ev.Scripts) == 1 })
	assert.Equal(t, "login", list.Scripts[0].Name)

	s.Handle(Message{Type: "get_script", ScriptID: "s1"})
	waitFor(t, c, func(ev ScriptEvent) bool { return ev.Script != nil && ev.Script.ID == "s1" })
	vars := waitFor(t, c, func(ev ScriptVariablesEvent) bool { return ev.ScriptID == "s1" })
	require.Len(t, vars.Variables, 1)
	assert.Equal(t, "email", vars.Variables[0].Name)

	s.Handle(Message{Type: "export_script", ScriptID: "s1"})
	exported := waitFor(t, c, func(ev ScriptExportEvent) bool { return ev.ScriptID == "s1" })
	require.NotEmpty(t, exported.Data)

	s.Handle(Message{Type: "import_script", Data: exported.Data, Conflict: "rename"})
	imported := waitFor(t, c, func(ev ScriptImportEvent) bool { return ev.Report != nil })
	assert.True(t, imported.Report.NameConflict)

	s.Handle(Message{Type: "delete_script", ScriptID: "s1"})
	waitFor(t, c, func(ev StatusEvent) bool { return ev.State == "script_deleted" })
	_, err = s.store.Load("s1")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestSessionFrameFanOut(t *testing.T) {
	s, _, c := newTestSession(t)

	s.Frame(types.Frame{ID: 7, Data: []byte{0xff, 0xd8}, URL: "https://app.example", Captured: 123})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.frames)
	f := c.frames[len(c.frames)-1]
	assert.Equal(t, uint64(7), f.FrameID)
	assert.Equal(t, "real_time_screenshot", f.Type)
	assert.NotEmpty(t, f.Data)
	_ = s
}
