package sessionpool

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerClassifier(t *testing.T) {
	classifier := MarkerClassifier{Marker: DefaultFailureMarker}
	assert.True(t, classifier.IsFailure("Ad error: 1009 The VAST response document is empty."))
	assert.True(t, classifier.IsFailure("player.js:42 Ad error: 303"))
	assert.False(t, classifier.IsFailure("Ad loaded"))
	assert.False(t, classifier.IsFailure("ad error: lower case does not match"))
	assert.False(t, MarkerClassifier{}.IsFailure("Ad error: empty marker matches nothing"))
}

func TestRegexpClassifier(t *testing.T) {
	classifier := RegexpClassifier{Pattern: regexp.MustCompile(`(?i)vast error \d+`)}
	assert.True(t, classifier.IsFailure("VAST Error 402 media timeout"))
	assert.False(t, classifier.IsFailure("VAST loaded"))
	assert.False(t, RegexpClassifier{}.IsFailure("anything"))
}

func TestAnyOf(t *testing.T) {
	classifier := AnyOf{
		nil,
		MarkerClassifier{Marker: DefaultFailureMarker},
		ClassifierFunc(func(line string) bool { return line == "Uncaught exception" }),
	}
	assert.True(t, classifier.IsFailure("Ad error: 1009"))
	assert.True(t, classifier.IsFailure("Uncaught exception"))
	assert.False(t, classifier.IsFailure("Ad started"))
	assert.False(t, AnyOf{}.IsFailure("Ad error: 1009"))
}
