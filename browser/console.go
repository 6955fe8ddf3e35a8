package browser

import (
	"encoding/json"
	"strings"

	"github.com/chromedp/cdproto/runtime"
)

// consoleText turns the arguments of a console API call into a single line of text, joined by a space the same way
// browsers print console messages.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, remoteObjectText(arg))
	}
	return strings.Join(parts, " ")
}

func remoteObjectText(obj *runtime.RemoteObject) string {
	if len(obj.Value) > 0 {
		if obj.Type == runtime.TypeString {
			var str string
			if err := json.Unmarshal([]byte(obj.Value), &str); err == nil {
				return str
			}
		}
		return string(obj.Value)
	}
	if obj.UnserializableValue != "" {
		return string(obj.UnserializableValue)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

// exceptionText describes an uncaught exception thrown in page context.
func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return ""
	}
	text := details.Text
	if details.Exception != nil && details.Exception.Description != "" {
		text += " " + details.Exception.Description
	}
	return text
}
