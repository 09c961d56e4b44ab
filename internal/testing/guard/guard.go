// Package guard flips the binaries into test mode when imported by a test.
package guard

import (
	"os"

	"github.com/retifica-erp/retifica/internal/app"
)

const testSecret = "test-signing-key-1234567890123456"

func init() {
	if os.Getenv(app.TestModeEnv) == "" {
		_ = os.Setenv(app.TestModeEnv, "1")
	}
	if os.Getenv("JWT_SECRET") == "" {
		_ = os.Setenv("JWT_SECRET", testSecret)
	}
	app.RefreshTestMode()
}
