// Package testutils holds helpers shared by the tests of this module.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the tests of a package and fails it if goroutines are left running.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m)
}
