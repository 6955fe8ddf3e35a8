// Package browser offers the rendering engine capability consumed by the session pool: an engine allocates pages, and
// each page can navigate, evaluate script, reload, close, and stream its console output as text lines.
package browser

import (
	"context"
	"errors"
)

var (
	// ErrResourceExhausted is returned when the engine cannot allocate another page.
	ErrResourceExhausted = errors.New("rendering engine cannot allocate a new page")
	// ErrTimeout is returned when an engine operation does not complete within its time bound.
	ErrTimeout = errors.New("rendering engine operation timed out")
	// ErrEval is returned when a script evaluated in page context throws or cannot be evaluated.
	ErrEval = errors.New("page script evaluation failed")
	// ErrPageClosed is returned by operations on a page that has already been closed.
	ErrPageClosed = errors.New("page is closed")
)

// Engine allocates pages in a rendering engine such as a headless browser.
type Engine interface {
	// NewPage allocates a blank page. It returns an error wrapping ErrResourceExhausted if the engine is out of room.
	NewPage(ctx context.Context) (Page, error)
}

// Page is a single document in the rendering engine. All blocking operations respect the deadline of their context,
// and an operation that runs past the deadline returns an error wrapping ErrTimeout.
type Page interface {
	// Navigate loads the URL and waits for the document to finish loading.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in page context and discards its result.
	Evaluate(ctx context.Context, script string) error
	// Reload reloads the current document and waits for it to finish loading.
	Reload(ctx context.Context) error
	// Close releases the page. Closing a closed page does nothing.
	Close(ctx context.Context) error
	// Output returns the stream of console text lines emitted by the page. The same channel is returned on every call,
	// it persists across reloads, and it is closed after the page is closed.
	Output() <-chan string
}
