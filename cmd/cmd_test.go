package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-admin/internal/admin"
	"github.com/JakeFAU/research-admin/internal/client"
	"github.com/JakeFAU/research-admin/internal/config"
	"github.com/JakeFAU/research-admin/internal/server"
	"github.com/JakeFAU/research-admin/internal/subscription"
	"github.com/JakeFAU/research-admin/internal/task"
)

func testConfig(itemDelayMs int) config.Config {
	return config.Config{
		API: config.APIConfig{
			BaseURL:        "http://localhost",
			TimeoutSeconds: 5,
			ProgressPath:   "/api/admin/tasks/{taskId}/progress",
		},
		Progress: config.ProgressConfig{BufferSize: 64, Batch: config.ProgressBatchConfig{MaxEvents: 8, MaxWaitMs: 5}},
		Mock: config.MockConfig{
			Port:             1,
			ItemDelayMs:      itemDelayMs,
			TotalItems:       4,
			FailingItems:     []string{"session-002"},
			Workers:          1,
			QueueDepth:       4,
			HeartbeatSeconds: 1,
		},
	}
}

// startBackend serves a mock backend on a loopback port and points newEnv
// at it for the rest of the test.
func startBackend(t *testing.T, itemDelayMs int) string {
	t.Helper()

	cfg := testConfig(itemDelayMs)
	app, err := server.Build(cfg, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Serve(ctx, ln) }()

	prev := newEnv
	newEnv = func(_, _ string) (*Env, error) {
		envCfg := testConfig(itemDelayMs)
		envCfg.API.BaseURL = baseURL
		return &Env{Config: envCfg, Logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() {
		newEnv = prev
		cancel()
		select {
		case <-errCh:
		case <-time.After(10 * time.Second):
			t.Error("backend did not shut down")
		}
	})
	return baseURL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func launchAndWait(t *testing.T, baseURL string) string {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	resp, err := c.LaunchReindex(context.Background(), task.LaunchRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		evt, err := c.TaskStatus(context.Background(), resp.TaskID)
		return err == nil && evt.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return resp.TaskID
}

func TestReindexFollowsToCompletion(t *testing.T) {
	startBackend(t, 1)

	out, err := execute(t, "reindex")
	require.NoError(t, err)
	require.Contains(t, out, "launched reindex task-")
	require.Contains(t, out, "4/4 (100.0%) failed=1")
	require.Contains(t, out, "finished: completed (reindexed 3 items)")
	require.Contains(t, out, "error session-002: embedding service timeout")
}

func TestReindexRestrictedToSessions(t *testing.T) {
	startBackend(t, 1)

	out, err := execute(t, "reindex", "--session", "alpha,beta")
	require.NoError(t, err)
	require.Contains(t, out, "(2 items)")
	require.Contains(t, out, "2/2 (100.0%) failed=0")
	require.Contains(t, out, "finished: completed (reindexed 2 items)")
}

func TestReindexFailsWhenEveryItemFails(t *testing.T) {
	startBackend(t, 1)

	_, err := execute(t, "reindex", "--session", "session-002")
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed")
}

func TestFollowCancelsOnFirstInterrupt(t *testing.T) {
	baseURL := startBackend(t, 100)

	api, err := client.New(client.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	subs, err := subscription.NewSubscriber(subscription.Config{BaseURL: baseURL})
	require.NoError(t, err)
	ctrl := admin.NewReindexController(api, subs, admin.Options{})
	defer ctrl.Close()

	_, err = ctrl.Start(context.Background(), task.LaunchRequest{})
	require.NoError(t, err)

	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt
	var out bytes.Buffer
	require.NoError(t, follow(context.Background(), &out, ctrl, interrupts))
	require.Contains(t, out.String(), "cancellation requested")
	require.Contains(t, out.String(), "finished: cancelled")
}

func TestFollowExitsOnSecondInterrupt(t *testing.T) {
	baseURL := startBackend(t, 500)

	api, err := client.New(client.Config{BaseURL: baseURL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	subs, err := subscription.NewSubscriber(subscription.Config{BaseURL: baseURL})
	require.NoError(t, err)
	ctrl := admin.NewReindexController(api, subs, admin.Options{})
	defer ctrl.Close()

	_, err = ctrl.Start(context.Background(), task.LaunchRequest{})
	require.NoError(t, err)

	interrupts := make(chan os.Signal, 2)
	interrupts <- os.Interrupt
	interrupts <- os.Interrupt
	var out bytes.Buffer
	err = follow(context.Background(), &out, ctrl, interrupts)
	require.ErrorIs(t, err, errInterrupted)
}

func TestWatchFinishedTask(t *testing.T) {
	baseURL := startBackend(t, 1)
	taskID := launchAndWait(t, baseURL)

	out, err := execute(t, "watch", taskID)
	require.NoError(t, err)
	require.Contains(t, out, taskID+" completed")
	require.Contains(t, out, "finished: completed (reindexed 3 items)")
}

func TestWatchUnknownTask(t *testing.T) {
	startBackend(t, 1)

	_, err := execute(t, "watch", "task-missing")
	require.Error(t, err)
	var hs *subscription.HandshakeError
	require.ErrorAs(t, err, &hs)
	require.Equal(t, 404, hs.StatusCode)
}

func TestStatusPrintsSnapshot(t *testing.T) {
	baseURL := startBackend(t, 1)
	taskID := launchAndWait(t, baseURL)

	out, err := execute(t, "status", taskID)
	require.NoError(t, err)
	require.Contains(t, out, "finished: completed")

	out, err = execute(t, "status", "--json", taskID)
	require.NoError(t, err)
	var evt task.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(out), &evt))
	require.Equal(t, taskID, evt.TaskID)
	require.Equal(t, task.StatusCompleted, evt.Status)
	require.Equal(t, 4, evt.ProcessedItems)

	_, err = execute(t, "status", "task-missing")
	require.ErrorContains(t, err, "does not exist")
}

func TestCancelCommand(t *testing.T) {
	baseURL := startBackend(t, 1)
	taskID := launchAndWait(t, baseURL)

	out, err := execute(t, "cancel", taskID)
	require.NoError(t, err)
	require.Contains(t, out, "already finished")

	_, err = execute(t, "cancel", "task-missing")
	require.ErrorContains(t, err, "does not exist")
}

func TestProgressBarClamps(t *testing.T) {
	t.Parallel()

	require.Equal(t, "["+repeat('.', barWidth)+"]", progressBar(-5))
	require.Equal(t, "["+repeat('#', barWidth)+"]", progressBar(250))
	require.Equal(t, "["+repeat('#', barWidth/2)+repeat('.', barWidth-barWidth/2)+"]", progressBar(50))
}

func repeat(r rune, n int) string {
	return string(bytes.Repeat([]byte(string(r)), n))
}
