// Package testingstub lets non-test files offer test helpers without importing the "testing" package, whose
// initialiser registers the test flags with the program's global flag set.
package testingstub

// T is the part of testing.T used by the test helpers of this program.
type T interface {
	Helper()
	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Log(...interface{})
	Logf(string, ...interface{})
	Skip(...interface{})
}
