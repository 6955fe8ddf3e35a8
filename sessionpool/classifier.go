package sessionpool

import (
	"regexp"
	"strings"
)

// DefaultFailureMarker is printed to the console by the player page when the ad SDK reports an ad error.
const DefaultFailureMarker = "Ad error:"

// Classifier tells whether a line of page output indicates an ad delivery failure.
type Classifier interface {
	IsFailure(line string) bool
}

// ClassifierFunc adapts an ordinary function into a Classifier.
type ClassifierFunc func(line string) bool

func (fun ClassifierFunc) IsFailure(line string) bool {
	return fun(line)
}

// MarkerClassifier matches lines that contain the literal marker. An empty marker matches nothing.
type MarkerClassifier struct {
	Marker string
}

func (classifier MarkerClassifier) IsFailure(line string) bool {
	return classifier.Marker != "" && strings.Contains(line, classifier.Marker)
}

// RegexpClassifier matches lines that match the regular expression.
type RegexpClassifier struct {
	Pattern *regexp.Regexp
}

func (classifier RegexpClassifier) IsFailure(line string) bool {
	return classifier.Pattern != nil && classifier.Pattern.MatchString(line)
}

// AnyOf matches a line when any of its classifiers matches the line.
type AnyOf []Classifier

func (classifiers AnyOf) IsFailure(line string) bool {
	for _, classifier := range classifiers {
		if classifier != nil && classifier.IsFailure(line) {
			return true
		}
	}
	return false
}
