// File: internal/protocol/driver.go
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
)

// Driver tool names exposed by the browser-driver subprocess.
const (
	toolSnapshot     = "browser_snapshot"
	toolNavigate     = "browser_navigate"
	toolClick        = "browser_click"
	toolType         = "browser_type"
	toolSelectOption = "browser_select_option"
	toolFileUpload   = "browser_file_upload"
	toolPressKey     = "browser_press_key"
)

// rpcCaller is the slice of Client the driver needs. Narrow so tests can
// substitute a scripted transport.
type rpcCaller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Driver wraps the raw protocol client with typed page operations and tracks
// the action epoch. Every mutating call that succeeds bumps the epoch; refs
// issued under an older epoch are invalid and must not be replayed.
//
// Scrolling changes the rendered accessibility tree even though it submits
// nothing, so it counts as mutating here.
type Driver struct {
	rpc    rpcCaller
	logger *zap.Logger
	epoch  atomic.Uint64
}

// NewDriver wraps an established protocol client.
func NewDriver(rpc rpcCaller, logger *zap.Logger) (*Driver, error) {
	if rpc == nil {
		return nil, fmt.Errorf("driver requires a protocol client")
	}
	if logger == nil {
		return nil, fmt.Errorf("driver requires a logger")
	}
	return &Driver{rpc: rpc, logger: logger.Named("driver")}, nil
}

// Epoch returns the current action epoch.
func (d *Driver) Epoch() uint64 {
	return d.epoch.Load()
}

// toolResult is the payload of a tools/call response.
type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// callTool invokes one named driver tool and unwraps its text payload.
// Tool-level failures (isError) are classified: missing-element failures
// become ElementNotFoundError so callers can recover with a fresh snapshot.
func (d *Driver) callTool(ctx context.Context, name string, args map[string]any, ref string) (string, error) {
	raw, err := d.rpc.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var result toolResult
	if err := fastjson.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode %s result: %w", name, err)
	}

	var text strings.Builder
	for _, c := range result.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if result.IsError {
		msg := text.String()
		if isElementNotFound(msg) {
			return "", &ElementNotFoundError{Ref: ref, Detail: firstLine(msg)}
		}
		return "", fmt.Errorf("tool %s failed: %s", name, firstLine(msg))
	}
	return text.String(), nil
}

// mutate runs a tool call and bumps the epoch on success.
func (d *Driver) mutate(ctx context.Context, name string, args map[string]any, ref string) error {
	if _, err := d.callTool(ctx, name, args, ref); err != nil {
		return err
	}
	epoch := d.epoch.Add(1)
	d.logger.Debug("Page mutated.", zap.String("tool", name), zap.Uint64("epoch", epoch))
	return nil
}

// Snapshot captures the current accessibility snapshot. Non-mutating: the
// epoch is unchanged and the snapshot is stamped with the epoch it was
// captured under.
func (d *Driver) Snapshot(ctx context.Context) (schemas.Snapshot, error) {
	text, err := d.callTool(ctx, toolSnapshot, map[string]any{}, "")
	if err != nil {
		return schemas.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return schemas.Snapshot{
		ID:         uuid.NewString(),
		RawText:    text,
		CapturedAt: time.Now().UTC(),
		Epoch:      d.epoch.Load(),
	}, nil
}

// Navigate loads a URL. Mutating.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.mutate(ctx, toolNavigate, map[string]any{"url": url}, ""); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Click activates the element behind ref. Mutating.
func (d *Driver) Click(ctx context.Context, ref string) error {
	args := map[string]any{"ref": ref, "element": ref}
	if err := d.mutate(ctx, toolClick, args, ref); err != nil {
		return fmt.Errorf("click %s: %w", ref, err)
	}
	return nil
}

// Type enters text into the element behind ref. Mutating.
func (d *Driver) Type(ctx context.Context, ref, text string) error {
	args := map[string]any{"ref": ref, "element": ref, "text": text}
	if err := d.mutate(ctx, toolType, args, ref); err != nil {
		return fmt.Errorf("type into %s: %w", ref, err)
	}
	return nil
}

// SelectOption picks a value in the select element behind ref. Mutating.
func (d *Driver) SelectOption(ctx context.Context, ref, value string) error {
	args := map[string]any{"ref": ref, "element": ref, "values": []string{value}}
	if err := d.mutate(ctx, toolSelectOption, args, ref); err != nil {
		return fmt.Errorf("select option on %s: %w", ref, err)
	}
	return nil
}

// UploadFile attaches a local file to the input behind ref. Mutating.
func (d *Driver) UploadFile(ctx context.Context, ref, path string) error {
	args := map[string]any{"ref": ref, "element": ref, "paths": []string{path}}
	if err := d.mutate(ctx, toolFileUpload, args, ref); err != nil {
		return fmt.Errorf("upload file to %s: %w", ref, err)
	}
	return nil
}

// PressKey sends one keyboard key to the page. Mutating.
func (d *Driver) PressKey(ctx context.Context, key string) error {
	if err := d.mutate(ctx, toolPressKey, map[string]any{"key": key}, ""); err != nil {
		return fmt.Errorf("press key %s: %w", key, err)
	}
	return nil
}

// Scroll moves the viewport. Mutating: the visible tree and its refs change.
func (d *Driver) Scroll(ctx context.Context, direction string) error {
	key := "PageDown"
	if direction == "up" {
		key = "PageUp"
	}
	if err := d.mutate(ctx, toolPressKey, map[string]any{"key": key}, ""); err != nil {
		return fmt.Errorf("scroll %s: %w", direction, err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
