package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/specialistvlad/pipegraph/internal/ctxlog"
)

// LogsEnv makes tests print the captured logs when set to "true".
const LogsEnv = "PIPEGRAPH_TEST_LOGS"

// Context returns a context carrying a debug logger that writes into the
// returned buffer. The logs are printed when the test fails or LogsEnv is
// set.
func Context(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	t.Cleanup(func() {
		if t.Failed() || os.Getenv(LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})
	return ctxlog.WithLogger(context.Background(), logger), buf
}
