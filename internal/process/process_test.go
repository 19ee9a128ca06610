package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/celergeo/internal/config"
	"github.com/mattjoyce/celergeo/internal/log"
	"github.com/mattjoyce/celergeo/internal/mockengine"
	"github.com/mattjoyce/celergeo/internal/protocol"
)

func TestMain(m *testing.M) {
	if mockengine.Requested() {
		mockengine.Main()
	}
	os.Exit(m.Run())
}

const mockName = "mock-process"

func launchMock(t *testing.T, mode string, opts ...Option) *Handle {
	t.Helper()
	prefix := mockengine.Install(t, mockName)
	opts = append([]Option{
		WithEnv(mockengine.Env(mode)),
		WithLogger(log.Discard()),
	}, opts...)

	h, err := Launch(context.Background(), mockengine.Settings(prefix), mockName, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !h.Exited() {
			_ = h.Kill()
		}
	})
	return h
}

func TestLaunchConfigurationErrors(t *testing.T) {
	prefix := mockengine.Install(t, mockName)
	plain := filepath.Join(prefix, "bin", "not-executable")
	require.NoError(t, os.WriteFile(plain, []byte("#!/bin/sh\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(prefix, "bin", "dir"), 0o755))

	tests := []struct {
		name     string
		settings *config.Settings
		exe      string
		contains string
	}{
		{"unset prefix", config.Defaults(), mockName, "prefix is not set"},
		{"missing executable", mockengine.Settings(prefix), "celer-geo", "executable not found"},
		{"not executable", mockengine.Settings(prefix), "not-executable", "not executable"},
		{"directory", mockengine.Settings(prefix), "dir", "is a directory"},
		{"path traversal", mockengine.Settings(prefix), "../bin/" + mockName, "invalid executable name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Launch(context.Background(), tt.settings, tt.exe)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Error(), tt.contains)
		})
	}
}

func TestLaunchCancelledContext(t *testing.T) {
	prefix := mockengine.Install(t, mockName)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Launch(ctx, mockengine.Settings(prefix), mockName)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLaunchArgumentsAndEnvironment(t *testing.T) {
	prefix := mockengine.Install(t, mockName)
	settings := mockengine.Settings(prefix)
	settings.Profiling = true
	settings.DisableDevice = false
	settings.Log = config.LogDebug

	h, err := Launch(context.Background(), settings, mockName,
		WithBaseEnv([]string{"CELER_DISABLE_DEVICE=1", "KEEP_ME=yes"}),
		WithEnv(mockengine.Env(mockengine.ModeEcho)),
		WithLogger(log.Discard()),
	)
	require.NoError(t, err)
	defer func() { _ = h.Kill() }()

	ctx := context.Background()
	args, err := CommunicateJSON(ctx, h, map[string]any{"args": true})
	require.NoError(t, err)
	assert.Equal(t, []any{"-"}, args)

	tests := []struct {
		name string
		want any
	}{
		{"CELER_ENABLE_PROFILING", "1"},
		{"CELER_DISABLE_DEVICE", ""},
		{"CELER_LOG", "debug"},
		{"KEEP_ME", "yes"},
		{"CELER_PROFILING", nil},
	}
	for _, tt := range tests {
		got, err := CommunicateJSON(ctx, h, map[string]any{"env": tt.name})
		require.NoError(t, err)
		assert.Equal(t, []any{tt.name, tt.want}, got, tt.name)
	}
}

func TestEchoContract(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)
	ctx := context.Background()

	resp, ok, err := h.Communicate(ctx, `"hello"`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"success"`, resp)

	got, err := CommunicateJSON(ctx, h, []string{"foo", "bar"})
	require.NoError(t, err)
	assert.Equal(t, []any{"success", []any{"foo", "bar"}}, got)

	msg, err := CommunicateModel[string](ctx, h, "hello")
	require.NoError(t, err)
	assert.Equal(t, "success", msg)
	assert.False(t, h.Exited())

	out, err := h.Close(DefaultCloseTimeout)
	require.NoError(t, err)
	closing, err := protocol.Decode[string](out)
	require.NoError(t, err)
	assert.Equal(t, "closing", closing)
	assert.True(t, h.Exited())
	assert.Equal(t, 0, h.ExitCode())
}

func TestCloseTwice(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := h.Close(DefaultCloseTimeout)
	require.NoError(t, err)

	_, err = h.Close(DefaultCloseTimeout)
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = h.Communicate(context.Background(), `"hello"`)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Kill(), ErrClosed)
}

func TestAbortIsMissingOutput(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[string](context.Background(), h, "abort")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "missing output", pe.Op)
	assert.True(t, pe.Exited)
	assert.Equal(t, 3, pe.ExitCode)
	assert.Contains(t, pe.Error(), "exited with code 3")

	_, err = h.Close(DefaultCloseTimeout)
	require.NoError(t, err)
}

func TestCrashReportsSignal(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[string](context.Background(), h, "crash")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Exited)
	assert.Equal(t, syscall.SIGKILL, pe.Signal)
	assert.Equal(t, -1, h.ExitCode())
}

func TestWriteAfterExitIsSwallowed(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[string](context.Background(), h, map[string]any{"exit": 5})
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.True(t, h.Wait(5*time.Second))

	resp, ok, err := h.Communicate(context.Background(), `"hello"`)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, resp)
	assert.Equal(t, 5, h.ExitCode())
}

func TestRemoteException(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)
	ctx := context.Background()

	_, err := CommunicateModel[[]string](ctx, h, "throw")
	var re *protocol.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "celeritas::RuntimeError", re.Dump.Type)
	assert.Equal(t, "runtime", re.Dump.Which)
	require.NotNil(t, re.Dump.What)
	assert.Equal(t, "trace failed", *re.Dump.What)
	assert.Equal(t, "celer-geo/celer-geo.cc:42", re.Dump.Location())
	require.NotNil(t, re.Dump.Context)
	assert.Equal(t, "celeritas::DebugError", re.Dump.Context.Type)

	var cause *protocol.RemoteError
	require.ErrorAs(t, errors.Unwrap(err), &cause)
	assert.Equal(t, "celeritas::DebugError", cause.Dump.Type)

	_, err = CommunicateJSON(ctx, h, "throw")
	require.ErrorAs(t, err, &re)

	// The handle is still usable after a remote failure.
	msg, err := CommunicateModel[string](ctx, h, "hello")
	require.NoError(t, err)
	assert.Equal(t, "success", msg)
}

func TestShapeMismatchKeepsDecodeError(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[int](context.Background(), h, "hello")
	var de *protocol.DecodingError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.DecodeShape, de.Kind)
	assert.Equal(t, `"success"`, de.Line)
}

func TestEncodingErrorSendsNothing(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[string](context.Background(), h, make(chan int))
	var ee *protocol.EncodingError
	require.ErrorAs(t, err, &ee)

	msg, err := CommunicateModel[string](context.Background(), h, "hello")
	require.NoError(t, err)
	assert.Equal(t, "success", msg)
}

func TestCloseEscalatesToKill(t *testing.T) {
	h := launchMock(t, mockengine.ModeIgnoreSignals)

	msg, err := CommunicateModel[string](context.Background(), h, "hello")
	require.NoError(t, err)
	require.Equal(t, "success", msg)

	timeout := 100 * time.Millisecond
	start := time.Now()
	out, err := h.Close(timeout)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.True(t, h.Exited())
	assert.Equal(t, syscall.SIGKILL, h.Signal())
	// Sentinel wait, voluntary exit wait, then three signal levels.
	assert.Less(t, elapsed, 5*timeout+2*time.Second)
}

func TestCloseChildNotReadingInput(t *testing.T) {
	h := launchMock(t, mockengine.ModeDeaf)

	// Fill the pipe so the next write would block.
	chunk := make([]byte, 64*1024)
	require.NoError(t, h.stdin.SetWriteDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		if _, err := h.stdin.Write(chunk); err != nil {
			require.ErrorIs(t, err, os.ErrDeadlineExceeded)
			break
		}
	}
	require.NoError(t, h.stdin.SetWriteDeadline(time.Time{}))

	timeout := 100 * time.Millisecond
	start := time.Now()
	_, err := h.Close(timeout)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.True(t, h.Exited())
	assert.Equal(t, int(syscall.SIGINT), h.ExitCode(), "the mock exits with the signal number")
	assert.Less(t, elapsed, 5*timeout+2*time.Second)
}

func TestMockEnvKeepsRaceExitFast(t *testing.T) {
	env := mockengine.Env(mockengine.ModeEcho)
	assert.Equal(t, mockengine.ModeEcho, env[mockengine.EnvVar])
	assert.Equal(t, "atexit_sleep_ms=0", env["GORACE"])
}

func TestCloseAfterTermination(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	_, err := CommunicateModel[string](context.Background(), h, "abort")
	require.Error(t, err)

	out, err := h.Close(DefaultCloseTimeout)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 3, h.ExitCode())
}

func TestKillUnblocksExchange(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, ok, err := h.Communicate(context.Background(), `{"sleep": 30}`)
		done <- result{ok, err}
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.Kill())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.False(t, r.ok)
	case <-time.After(5 * time.Second):
		t.Fatal("exchange still blocked after Kill")
	}
	assert.Equal(t, syscall.SIGKILL, h.Signal())
}

func TestRequestTimeoutKillsChild(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := h.Communicate(ctx, `{"sleep": 30}`)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, h.Wait(5*time.Second))

	_, err = h.Close(DefaultCloseTimeout)
	require.NoError(t, err)
}

func TestConcurrentExchangesAreSerialized(t *testing.T) {
	h := launchMock(t, mockengine.ModeEcho)
	ctx := context.Background()

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			got, err := CommunicateJSON(ctx, h, []int{i})
			if err != nil {
				errs <- err
				return
			}
			want := []any{"success", []any{float64(i)}}
			if !assert.ObjectsAreEqual(want, got) {
				errs <- errors.New("response paired with the wrong request")
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < workers; i++ {
		assert.NoError(t, <-errs)
	}
}
