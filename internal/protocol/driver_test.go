// File: internal/protocol/driver_test.go
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// scriptedRPC returns canned tool results keyed by tool name and records the
// calls it saw.
type scriptedRPC struct {
	results map[string]toolResult
	errs    map[string]error
	calls   []map[string]any
}

func (s *scriptedRPC) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	p, _ := params.(map[string]any)
	s.calls = append(s.calls, p)
	name, _ := p["name"].(string)
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	result, ok := s.results[name]
	if !ok {
		result = toolResult{}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func textResult(text string, isError bool) toolResult {
	var r toolResult
	r.IsError = isError
	r.Content = append(r.Content, struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "text", Text: text})
	return r
}

func newTestDriver(t *testing.T, rpc rpcCaller) *Driver {
	t.Helper()
	d, err := NewDriver(rpc, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func TestDriverSnapshot(t *testing.T) {
	rpc := &scriptedRPC{results: map[string]toolResult{
		toolSnapshot: textResult("- button \"Easy Apply\" [ref=e12]", false),
	}}
	d := newTestDriver(t, rpc)

	snap, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Contains(t, snap.RawText, "Easy Apply")
	assert.Equal(t, uint64(0), snap.Epoch, "snapshot must not bump the epoch")
	assert.False(t, snap.CapturedAt.IsZero())

	// A second capture gets a distinct identity.
	snap2, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, snap2.ID)
}

func TestDriverEpochAdvancesOnMutation(t *testing.T) {
	rpc := &scriptedRPC{results: map[string]toolResult{
		toolSnapshot:     textResult("page", false),
		toolNavigate:     textResult("ok", false),
		toolClick:        textResult("ok", false),
		toolType:         textResult("ok", false),
		toolSelectOption: textResult("ok", false),
		toolFileUpload:   textResult("ok", false),
		toolPressKey:     textResult("ok", false),
	}}
	d := newTestDriver(t, rpc)
	ctx := context.Background()

	require.Equal(t, uint64(0), d.Epoch())

	require.NoError(t, d.Navigate(ctx, "https://www.linkedin.com/jobs/view/123"))
	assert.Equal(t, uint64(1), d.Epoch())

	require.NoError(t, d.Click(ctx, "e12"))
	assert.Equal(t, uint64(2), d.Epoch())

	require.NoError(t, d.Type(ctx, "e13", "Jane Doe"))
	assert.Equal(t, uint64(3), d.Epoch())

	require.NoError(t, d.SelectOption(ctx, "e14", "Yes"))
	assert.Equal(t, uint64(4), d.Epoch())

	require.NoError(t, d.UploadFile(ctx, "e15", "/tmp/resume.pdf"))
	assert.Equal(t, uint64(5), d.Epoch())

	// Scrolling changes the visible tree, so it is mutating too.
	require.NoError(t, d.Scroll(ctx, "down"))
	assert.Equal(t, uint64(6), d.Epoch())

	_, err := d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), d.Epoch(), "snapshot must leave the epoch alone")
}

func TestDriverEpochFrozenOnFailure(t *testing.T) {
	rpc := &scriptedRPC{results: map[string]toolResult{
		toolClick: textResult("Error: element ref=e99 not found in current snapshot", true),
	}}
	d := newTestDriver(t, rpc)

	err := d.Click(context.Background(), "e99")
	require.Error(t, err)
	var notFound *ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "e99", notFound.Ref)
	assert.Equal(t, uint64(0), d.Epoch(), "failed mutation must not bump the epoch")
}

func TestDriverToolFailure(t *testing.T) {
	t.Run("generic tool error", func(t *testing.T) {
		rpc := &scriptedRPC{results: map[string]toolResult{
			toolNavigate: textResult("net::ERR_CONNECTION_REFUSED", true),
		}}
		d := newTestDriver(t, rpc)

		err := d.Navigate(context.Background(), "https://example.invalid")
		require.Error(t, err)
		var notFound *ElementNotFoundError
		assert.False(t, errors.As(err, &notFound), "connection failures are not element errors")
		assert.Contains(t, err.Error(), "ERR_CONNECTION_REFUSED")
	})

	t.Run("transport error passes through", func(t *testing.T) {
		rpc := &scriptedRPC{errs: map[string]error{
			toolSnapshot: ErrProcessTerminated,
		}}
		d := newTestDriver(t, rpc)

		_, err := d.Snapshot(context.Background())
		assert.ErrorIs(t, err, ErrProcessTerminated)
	})
}

func TestDriverScrollDirection(t *testing.T) {
	rpc := &scriptedRPC{results: map[string]toolResult{
		toolPressKey: textResult("ok", false),
	}}
	d := newTestDriver(t, rpc)

	require.NoError(t, d.Scroll(context.Background(), "down"))
	require.NoError(t, d.Scroll(context.Background(), "up"))

	require.Len(t, rpc.calls, 2)
	downArgs := rpc.calls[0]["arguments"].(map[string]any)
	upArgs := rpc.calls[1]["arguments"].(map[string]any)
	assert.Equal(t, "PageDown", downArgs["key"])
	assert.Equal(t, "PageUp", upArgs["key"])
}

func TestNewDriverValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewDriver(nil, logger)
	assert.Error(t, err)

	_, err = NewDriver(&scriptedRPC{}, nil)
	assert.Error(t, err)
}
