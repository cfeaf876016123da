package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the tests of a package and fails if goroutines are left running, such as
// workers of a batch that were never waited on.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m,
		// lumberjack's compression goroutine outlives Close
		goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}
