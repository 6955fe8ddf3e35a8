package browser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/HouzuoGuo/adcycle/misc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromeEngine_Initialise(t *testing.T) {
	engine := &ChromeEngine{ExtraFlags: []string{"--lang=en-US", "disable-gpu", "--"}}
	require.NoError(t, engine.Initialise())
	assert.Equal(t, DefaultUserAgent, engine.UserAgent)
	assert.Equal(t, 1280, engine.WindowWidth)
	assert.Equal(t, 800, engine.WindowHeight)
	assert.Equal(t, DefaultStartTimeoutSec, engine.StartTimeoutSec)
	assert.Equal(t, DefaultOutputBufferLen, engine.OutputBufferLen)
	// The last extra flag has no name and is ignored
	withFlags := len(engine.allocatorOptions())
	engine.ExtraFlags = nil
	assert.Equal(t, withFlags-2, len(engine.allocatorOptions()))

	engine = &ChromeEngine{MaxPages: -1}
	assert.Error(t, engine.Initialise())
}

func TestChromeEngine_NotStarted(t *testing.T) {
	engine := &ChromeEngine{}
	require.NoError(t, engine.Initialise())
	_, err := engine.NewPage(context.Background())
	assert.ErrorIs(t, err, ErrResourceExhausted)
	// Stopping an engine that never started does nothing
	engine.Stop()
}

func TestChromeEngine(t *testing.T) {
	execPath := misc.SkipIfNoChrome(t)
	misc.SkipTestIfCI(t)

	player := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><script>console.log("Ad error:", 1009, "VAST empty")</script></body></html>`))
	}))
	defer player.Close()

	engine := &ChromeEngine{ExecPath: execPath, Headless: true, NoSandbox: os.Getuid() == 0, MaxPages: 2}
	require.NoError(t, engine.Initialise())
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	page, err := engine.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Navigate(ctx, player.URL))
	waitForLine := func() string {
		select {
		case line := <-page.Output():
			return line
		case <-ctx.Done():
			t.Fatal("did not receive console output")
		}
		return ""
	}
	assert.Equal(t, "Ad error: 1009 VAST empty", waitForLine())

	// The console listener survives a reload
	require.NoError(t, page.Reload(ctx))
	assert.Equal(t, "Ad error: 1009 VAST empty", waitForLine())

	require.NoError(t, page.Evaluate(ctx, `console.log("cleanup")`))
	assert.Equal(t, "cleanup", waitForLine())
	err = page.Evaluate(ctx, `window.adsManager.destroy()`)
	assert.True(t, errors.Is(err, ErrEval), err)

	second, err := engine.NewPage(ctx)
	require.NoError(t, err)
	_, err = engine.NewPage(ctx)
	assert.ErrorIs(t, err, ErrResourceExhausted)

	require.NoError(t, page.Close(ctx))
	require.NoError(t, page.Close(ctx))
	assert.ErrorIs(t, page.Reload(ctx), ErrPageClosed)
	require.NoError(t, second.Close(ctx))
	// The output channel is closed after the page closes, draining it must terminate
	for range page.Output() {
	}
}
