// Package browser owns the per-session browser page. The Worker serializes
// all actions against it through a single-slot mailbox; nothing else in the
// process may drive the page.
package browser

import (
	"context"

	"browsernerd/internal/types"
)

// PageInfo describes the current page.
type PageInfo struct {
	URL   string
	Title string
}

// Driver is the narrow surface the Worker needs from the underlying browser.
// The production implementation wraps a rod page; tests substitute a stub.
type Driver interface {
	// Open acquires the browser and page. Idempotent.
	Open(ctx context.Context) error

	Navigate(ctx context.Context, url string) error

	// Click, Fill, SelectOption and Extract resolve the target's candidates
	// in order and act on the winning element. They return a description of
	// the candidate that matched.
	Click(ctx context.Context, t types.Target) (string, error)
	Fill(ctx context.Context, t types.Target, value string) (string, error)
	SelectOption(ctx context.Context, t types.Target, option string) (string, error)
	Extract(ctx context.Context, t types.Target) (value, final string, err error)

	ScrollBy(ctx context.Context, direction string) error
	ScrollTo(ctx context.Context, t types.Target) (string, error)

	// WaitFor blocks until the predicate expression evaluates truthy.
	WaitFor(ctx context.Context, predicate string) error

	// Press sends a named key ("Enter", "Tab", ...) or a single character
	// to the focused element.
	Press(ctx context.Context, key string) error

	Info(ctx context.Context) (PageInfo, error)
	Screenshot(ctx context.Context, quality int) ([]byte, error)
	Snapshot(ctx context.Context) (*types.PageSnapshot, error)

	// Close releases the page and browser. Idempotent.
	Close() error
}
