// Package testing puts the process in test mode when a test binary imports it.
// Binaries then return before dialing Postgres, Redis or the job queue, and the
// in-memory services are used instead.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testEnv is applied once; variables the caller already set are left alone,
// except the mode flag itself.
var testEnv = []struct {
	key, value string
	force      bool
}{
	{"ODYSSEY_TEST_MODE", "1", true},
	{"APP_ENV", "test", false},
	{"LOG_FORMAT", "json", false},
	{"LOG_LEVEL", "warn", false},
}

var once sync.Once

func apply() {
	once.Do(func() {
		for _, kv := range testEnv {
			if _, set := os.LookupEnv(kv.key); set && !kv.force {
				continue
			}
			_ = os.Setenv(kv.key, kv.value)
		}
	})
}

func init() {
	apply()
}

// TestMain lets packages delegate their own TestMain here.
func TestMain(m *stdtesting.M) {
	apply()
	os.Exit(m.Run())
}
