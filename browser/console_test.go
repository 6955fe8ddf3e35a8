package browser

import (
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
)

func TestConsoleText(t *testing.T) {
	args := []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"Ad error:"`)},
		{Type: runtime.TypeNumber, Value: []byte(`1009`)},
		nil,
		{Type: runtime.TypeNumber, UnserializableValue: "NaN"},
		{Type: runtime.TypeObject, Description: "AdError"},
		{Type: runtime.TypeUndefined},
	}
	assert.Equal(t, "Ad error: 1009 NaN AdError undefined", consoleText(args))
	assert.Equal(t, "", consoleText(nil))
}

func TestConsoleText_Escapes(t *testing.T) {
	args := []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"say \"hi\"\tthere"`)}}
	assert.Equal(t, "say \"hi\"\tthere", consoleText(args))
}

func TestExceptionText(t *testing.T) {
	assert.Equal(t, "", exceptionText(nil))
	assert.Equal(t, "Uncaught", exceptionText(&runtime.ExceptionDetails{Text: "Uncaught"}))
	assert.Equal(t, "Uncaught TypeError: adsManager is null", exceptionText(&runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Type: runtime.TypeObject, Description: "TypeError: adsManager is null"},
	}))
}

func TestOfferLine(t *testing.T) {
	output := make(chan string, 2)
	assert.False(t, offerLine(output, "a"))
	assert.False(t, offerLine(output, "b"))
	// The oldest line gives way
	assert.True(t, offerLine(output, "c"))
	assert.Equal(t, "b", <-output)
	assert.Equal(t, "c", <-output)
}

func TestChromePage_OnEvent(t *testing.T) {
	page := &chromePage{engine: &ChromeEngine{}, output: make(chan string, 2)}
	logLine := func(text string) *runtime.EventConsoleAPICalled {
		return &runtime.EventConsoleAPICalled{Args: []*runtime.RemoteObject{{Type: runtime.TypeString, Value: []byte(`"` + text + `"`)}}}
	}
	page.onEvent(logLine("Ad loaded"))
	page.onEvent(logLine("Ad started"))
	page.onEvent(logLine("Ad error: 1009"))
	page.onEvent(&runtime.EventExceptionThrown{ExceptionDetails: &runtime.ExceptionDetails{Text: "Uncaught"}})
	// Events of other kinds are not output
	page.onEvent(&runtime.EventExecutionContextsCleared{})
	assert.Equal(t, "Ad error: 1009", <-page.output)
	assert.Equal(t, "Uncaught exception: Uncaught", <-page.output)
	assert.Equal(t, int64(2), page.dropped)
}
