package answer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"snap-answer-server/src/core/image"
	"snap-answer-server/src/core/providers/vlllm"
	"snap-answer-server/src/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedProvider blocks every Answer call until release is closed.
type gatedProvider struct {
	name    string
	answer  string
	err     error
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	calls    int
	cleanups int
}

func newGatedProvider(answer string, err error) *gatedProvider {
	return &gatedProvider{
		name:    "fake",
		answer:  answer,
		err:     err,
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (p *gatedProvider) Name() string { return p.name }

func (p *gatedProvider) Answer(ctx context.Context, payload image.ImagePayload) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.started <- struct{}{}
	<-p.release
	return p.answer, p.err
}

func (p *gatedProvider) Cleanup() error {
	p.mu.Lock()
	p.cleanups++
	p.mu.Unlock()
	return nil
}

func newTestOrchestrator(p vlllm.AnswerProvider) *Orchestrator {
	return NewOrchestrator(p, utils.NewLoggerWithWriter("error", nil))
}

func testPayload() image.ImagePayload {
	return image.NewPayload([]byte("not really a png"), "image/png")
}

type askResult struct {
	state State
	err   error
}

func askAsync(o *Orchestrator) <-chan askResult {
	ch := make(chan askResult, 1)
	go func() {
		state, err := o.Ask(context.Background())
		ch <- askResult{state, err}
	}()
	return ch
}

func TestAskWithoutImage(t *testing.T) {
	o := newTestOrchestrator(newGatedProvider("x", nil))
	_, err := o.Ask(context.Background())
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestAskWithoutProvider(t *testing.T) {
	o := newTestOrchestrator(nil)
	o.SelectImage(testPayload())
	_, err := o.Ask(context.Background())
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAskSuccess(t *testing.T) {
	p := newGatedProvider("The answer is B.", nil)
	close(p.release)
	o := newTestOrchestrator(p)
	o.SelectImage(testPayload())

	var seen []Status
	o.OnChange(func(s State) { seen = append(seen, s.Status) })

	state, err := o.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, "The answer is B.", state.Result)
	assert.Empty(t, state.Error)
	assert.NotEmpty(t, state.RequestID)
	assert.Equal(t, []Status{StatusPending, StatusSuccess}, seen)
}

func TestAskFailureMessage(t *testing.T) {
	p := newGatedProvider("", &vlllm.HttpError{Vendor: "openai", Status: 401, Message: "Incorrect API key provided"})
	close(p.release)
	o := newTestOrchestrator(p)
	o.SelectImage(testPayload())

	state, err := o.Ask(context.Background())
	var httpErr *vlllm.HttpError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, StatusFailure, state.Status)
	assert.Equal(t, FailurePrefix+err.Error(), state.Error)
	assert.Empty(t, state.Result)
}

func TestSecondAskWhilePending(t *testing.T) {
	p := newGatedProvider("done", nil)
	o := newTestOrchestrator(p)
	o.SelectImage(testPayload())

	first := askAsync(o)
	<-p.started

	_, err := o.Ask(context.Background())
	assert.ErrorIs(t, err, ErrRequestPending)

	close(p.release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, 1, p.calls)
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	p := newGatedProvider("late answer", nil)
	o := newTestOrchestrator(p)
	o.SelectImage(testPayload())

	pending := askAsync(o)
	<-p.started
	assert.Equal(t, StatusPending, o.Snapshot().Status)

	o.Reset()
	close(p.release)

	res := <-pending
	assert.ErrorIs(t, res.err, ErrStaleResult)

	state := o.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Image)
	assert.Empty(t, state.Result)
}

func TestNewImageDiscardsInFlightFailure(t *testing.T) {
	p := newGatedProvider("", errors.New("boom"))
	o := newTestOrchestrator(p)
	o.SelectImage(testPayload())

	pending := askAsync(o)
	<-p.started

	next := image.NewPayload([]byte("second"), "image/jpeg")
	o.SelectImage(next)
	close(p.release)

	res := <-pending
	assert.ErrorIs(t, res.err, ErrStaleResult)

	state := o.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Image)
	assert.Equal(t, "image/jpeg", state.Image.MimeType)
}

func TestAskAfterResetWhileOldRequestRuns(t *testing.T) {
	slow := newGatedProvider("old", nil)
	o := newTestOrchestrator(slow)
	o.SelectImage(testPayload())

	old := askAsync(o)
	<-slow.started
	o.Reset()
	o.SelectImage(testPayload())

	fresh := newGatedProvider("new", nil)
	close(fresh.release)
	o.SetProvider(fresh)

	state, err := o.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", state.Result)

	close(slow.release)
	select {
	case res := <-old:
		assert.ErrorIs(t, res.err, ErrStaleResult)
	case <-time.After(time.Second):
		t.Fatal("old request did not finish")
	}
	assert.Equal(t, "new", o.Snapshot().Result)
	assert.Equal(t, 1, slow.cleanups)
}

func TestSelectImageClearsResultAndCamera(t *testing.T) {
	p := newGatedProvider("first", nil)
	close(p.release)
	o := newTestOrchestrator(p)
	o.SetCameraOpen(true)
	o.SelectImage(testPayload())

	_, err := o.Ask(context.Background())
	require.NoError(t, err)

	state := o.SelectImage(testPayload())
	assert.Equal(t, StatusIdle, state.Status)
	assert.Empty(t, state.Result)
	assert.False(t, state.CameraOpen)
	assert.Equal(t, "fake", state.Provider)
}

func TestOutdatedNotificationIsDropped(t *testing.T) {
	o := newTestOrchestrator(newGatedProvider("x", nil))
	o.SelectImage(testPayload())

	var seen []Status
	o.OnChange(func(s State) { seen = append(seen, s.Status) })

	// pending 已提交但通知尚未送出时，Reset 先完成通知
	o.mu.Lock()
	o.state.Status = StatusPending
	o.state.RequestID = "late"
	notifyPending := o.commitLocked()
	o.mu.Unlock()

	o.Reset()
	notifyPending()

	assert.Equal(t, []Status{StatusIdle}, seen)
	assert.Equal(t, StatusIdle, o.Snapshot().Status)
}
