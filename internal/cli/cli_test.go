package cli_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/pipegraph/internal/app"
	"github.com/specialistvlad/pipegraph/internal/cli"
)

func TestParse(t *testing.T) {
	t.Parallel()

	defaults := func(path string) *app.Config {
		return &app.Config{
			PipelinePath:    path,
			Listen:          ":8080",
			LogLevel:        "info",
			LogFormat:       "json",
			Executor:        app.ExecutorLocal,
			Workers:         4,
			Artifacts:       app.BackendMemory,
			State:           app.BackendMemory,
			ShutdownTimeout: 30 * time.Second,
		}
	}

	testCases := []struct {
		name           string
		args           []string
		expectExit     bool
		expectErr      string
		expectedConfig *app.Config
		checkOutput    func(t *testing.T, output string)
	}{
		{
			name: "Happy Path with all flags",
			args: []string{
				"-pipeline", "/test/pipeline",
				"--listen=127.0.0.1:9000",
				"--log-level=debug",
				"--log-format=text",
				"--executor=SOCKETIO",
				"--executor-url=ws://workers:3000/socket.io/",
				"--workers=8",
				"--workspace=/var/lib/pipegraph",
				"--artifacts=minio",
				"--state=postgres",
				"--snapshot=/var/lib/pipegraph/state.yaml",
				"--webhook-secret=s3cret",
				"--shutdown-timeout=1m",
				"--validate",
			},
			expectedConfig: &app.Config{
				PipelinePath:    "/test/pipeline",
				Listen:          "127.0.0.1:9000",
				WebhookSecret:   "s3cret",
				LogLevel:        "debug",
				LogFormat:       "text",
				Executor:        app.ExecutorSocketIO,
				ExecutorURL:     "ws://workers:3000/socket.io/",
				Workers:         8,
				Workspace:       "/var/lib/pipegraph",
				Artifacts:       app.BackendMinIO,
				State:           app.BackendPostgres,
				SnapshotPath:    "/var/lib/pipegraph/state.yaml",
				ShutdownTimeout: time.Minute,
				ValidateOnly:    true,
			},
		},
		{
			name:           "Shorthand flag and defaults",
			args:           []string{"-p", "/short/path"},
			expectedConfig: defaults("/short/path"),
		},
		{
			name:           "Positional argument for path",
			args:           []string{"/positional/path"},
			expectedConfig: defaults("/positional/path"),
		},
		{
			name:       "Help flag triggers clean exit",
			args:       []string{"-h"},
			expectExit: true,
			checkOutput: func(t *testing.T, output string) {
				require.Contains(t, output, "Usage:")
			},
		},
		{
			name:       "No path triggers clean exit with usage",
			args:       []string{},
			expectExit: true,
			checkOutput: func(t *testing.T, output string) {
				require.Contains(t, output, "PIPELINE_PATH")
			},
		},
		{
			name:      "Invalid log level returns an error",
			args:      []string{"--log-level=foo", "/path"},
			expectErr: "invalid log-level",
		},
		{
			name:      "Invalid log format returns an error",
			args:      []string{"--log-format=yaml", "/path"},
			expectErr: "invalid log-format",
		},
		{
			name:      "Unknown executor",
			args:      []string{"--executor=k8s", "/path"},
			expectErr: `unknown executor "k8s"`,
		},
		{
			name:      "Socket.io executor needs a URL",
			args:      []string{"--executor=socketio", "/path"},
			expectErr: "executor-url is required",
		},
		{
			name:      "Unknown state store",
			args:      []string{"--state=redis", "/path"},
			expectErr: `unknown state store "redis"`,
		},
		{
			name:      "Unknown artifact store",
			args:      []string{"--artifacts=gcs", "/path"},
			expectErr: `unknown artifact store "gcs"`,
		},
		{
			name:      "No workers",
			args:      []string{"--workers=0", "/path"},
			expectErr: "workers must be at least 1",
		},
		{
			name:      "Unknown flag",
			args:      []string{"--nope", "/path"},
			expectErr: "flag provided but not defined",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := &bytes.Buffer{}
			cfg, shouldExit, err := cli.Parse(tc.args, out)

			if tc.expectErr != "" {
				require.Error(t, err)
				var exitErr *cli.ExitError
				require.True(t, errors.As(err, &exitErr), "Expected error to be of type ExitError")
				require.Equal(t, 2, exitErr.Code)
				require.Contains(t, err.Error(), tc.expectErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expectExit, shouldExit)

			if tc.checkOutput != nil {
				tc.checkOutput(t, out.String())
			}
			if tc.expectedConfig != nil {
				if diff := cmp.Diff(tc.expectedConfig, cfg); diff != "" {
					t.Errorf("Parse() config mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}
