package app

import "os"

// testModeEnv is set by the test harness package; binaries exit early when it is on.
const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether binaries should skip connecting to Postgres,
// Redis and the queue.
func InTestMode() bool {
	switch os.Getenv(testModeEnv) {
	case "1", "true":
		return true
	}
	return false
}
