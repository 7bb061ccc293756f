// Package daemon runs the crewform runner process: the HTTP API, the
// scheduler loop, and the fleet registry (heartbeat plus recovery sweep),
// with pid/lock file management for background mode.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vincentgrobler/crewform-sub000/internal/config"
	"github.com/vincentgrobler/crewform-sub000/internal/credentials"
	"github.com/vincentgrobler/crewform-sub000/internal/executor"
	"github.com/vincentgrobler/crewform-sub000/internal/httpapi"
	"github.com/vincentgrobler/crewform-sub000/internal/llmcall"
	"github.com/vincentgrobler/crewform-sub000/internal/notify"
	"github.com/vincentgrobler/crewform-sub000/internal/otel"
	"github.com/vincentgrobler/crewform-sub000/internal/provider"
	"github.com/vincentgrobler/crewform-sub000/internal/runner"
	"github.com/vincentgrobler/crewform-sub000/internal/store"
	"github.com/vincentgrobler/crewform-sub000/internal/tools"
	"github.com/vincentgrobler/crewform-sub000/internal/usage"
)

var errNotRunning = errors.New("crewform is not running")

func StartForeground(ctx context.Context, opts StartOptions) error {
	if opts.Home == "" {
		return errors.New("home is required")
	}
	if opts.Port == 0 {
		opts.Port = 7333
	}

	cfg, err := config.Load(opts.Home)
	if err != nil {
		return err
	}
	if opts.InstanceName == "" {
		opts.InstanceName = cfg.InstanceName
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = cfg.MaxConcurrency
	}
	if opts.PollIntervalSec <= 0 {
		opts.PollIntervalSec = cfg.PollIntervalS
	}
	if opts.DBDriver == "" {
		opts.DBDriver = cfg.DBDriver
	}
	if opts.DBURL == "" {
		opts.DBURL = cfg.DBURL
	}
	if opts.WebhookURL == "" {
		opts.WebhookURL = cfg.WebhookURL
	}
	if opts.SandboxURL == "" {
		opts.SandboxURL = cfg.SandboxURL
	}

	// Ensure dirs exist.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return err
	}

	// Acquire singleton lock (released on exit).
	lock, err := acquireLock(lockPath(opts.Home))
	if err != nil {
		return err
	}
	defer lock.release()

	// Optional pprof.
	startPprof(opts.PprofAddr)

	// Ensure DB schema exists before serving (SQLite only; Postgres migrates on connect).
	if opts.DBDriver != "postgres" {
		if err := store.EnsureSchema(opts.Home); err != nil {
			return err
		}
	}

	// Write PID + addr files.
	pid := os.Getpid()
	if err := os.WriteFile(pidPath(opts.Home), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	addr := fmt.Sprintf("0.0.0.0:%d", opts.Port)
	_ = os.WriteFile(addrPath(opts.Home), []byte(addr+"\n"), 0o644)
	defer func() {
		_ = os.Remove(pidPath(opts.Home))
		_ = os.Remove(addrPath(opts.Home))
	}()

	// Early port check for clearer error.
	if err := checkPortAvailable(opts.Port); err != nil {
		return err
	}

	srvOpts := httpapi.ServerOptions{
		Home:      opts.Home,
		Addr:      addr,
		Dev:       opts.Dev,
		APIKey:    cfg.APIKey,
		DBDriver:  opts.DBDriver,
		DBURL:     opts.DBURL,
		MasterKey: cfg.MasterKey,
	}
	if opts.EnableOtel {
		metricsHandler, err := otel.InitMeterProvider(ctx, "crewform")
		if err != nil {
			slog.Warn("otel init failed, metrics disabled", "err", err)
		} else {
			srvOpts.MetricsHandler = metricsHandler
			srvOpts.UseOtelHTTP = true
		}
	}
	app, err := httpapi.NewApp(srvOpts)
	if err != nil {
		return err
	}
	if opts.EnableOtel {
		_ = otel.InitMetrics(ctx)
	}

	outbox := notify.NewOutbox(opts.WebhookURL, slog.Default())
	defer outbox.Close()

	var creds *credentials.Resolver
	if app.Credentials != nil {
		creds = app.Credentials
	} else {
		slog.Warn("CREWFORM_MASTER_KEY not set; LLM calls will fail until credentials are configured")
	}

	svc := &llmcall.Service{
		Store:       app.Store,
		Providers:   provider.NewRegistry(),
		Credentials: creds,
		Usage:       &usage.Writer{Store: app.Store},
	}
	toolExec := tools.NewExecutor(app.Store, cfg.FilesDir, opts.SandboxURL)
	exec := &executor.Executor{
		Store:   app.Store,
		Caller:  svc,
		Service: svc,
		Tools:   toolExec,
		Notify:  outbox,
		Events:  app.Hub,
		Log:     slog.Default(),
	}

	reg := runner.NewRegistry(app.Store, slog.Default(), opts.InstanceName, opts.MaxConcurrency)
	if err := reg.Register(ctx); err != nil {
		return err
	}
	sched := runner.NewScheduler(app.Store, reg, exec, slog.Default())
	if opts.PollIntervalSec > 0 {
		sched.PollInterval = time.Duration(opts.PollIntervalSec) * time.Second
	}

	slog.Info("runner starting", "addr", addr, "home", opts.Home, "runner_id", reg.ID, "db", opts.DBDriver)
	errCh := make(chan error, 1)
	go func() {
		go reg.RunHeartbeat(ctx)
		go reg.RunRecovery(ctx)
		go sched.Run(ctx)
		errCh <- app.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// Graceful deregistration: delete the runner row so peers do not wait
		// for the dead-threshold sweep.
		deregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reg.Deregister(deregCtx)
		cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func StartBackground(ctx context.Context, opts StartOptions) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	// Ensure dirs exist before starting.
	if err := os.MkdirAll(protectedDir(opts.Home), 0o755); err != nil {
		return 0, err
	}

	// Best-effort: refuse to start if already running.
	if st, _ := Status(ctx, opts.Home); st.Running {
		return 0, fmt.Errorf("crewform already running (pid %d)", st.PID)
	}

	logFile := filepath.Join(protectedDir(opts.Home), "daemon.log")
	stderr, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	// Kept open for child lifetime; closing here may break writes on some platforms.

	args := []string{
		"daemon",
		"--home", opts.Home,
		"--port", strconv.Itoa(opts.Port),
		"--poll-interval", strconv.Itoa(opts.PollIntervalSec),
		"--max-concurrency", strconv.Itoa(opts.MaxConcurrency),
	}
	if opts.InstanceName != "" {
		args = append(args, "--instance", opts.InstanceName)
	}
	if opts.DBDriver != "" {
		args = append(args, "--db-driver", opts.DBDriver)
	}
	if opts.DBURL != "" {
		args = append(args, "--db-url", opts.DBURL)
	}
	if opts.Dev {
		args = append(args, "--dev")
	}
	if opts.PprofAddr != "" {
		args = append(args, "--pprof", opts.PprofAddr)
	}
	if opts.WebhookURL != "" {
		args = append(args, "--webhook-url", opts.WebhookURL)
	}
	if opts.SandboxURL != "" {
		args = append(args, "--sandbox-url", opts.SandboxURL)
	}
	if !opts.EnableOtel {
		args = append(args, "--otel=false")
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	// Wait briefly for pid file to appear or process to die.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := Status(ctx, opts.Home); st.Running {
			return st.PID, nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	// Fallback to started pid even if status isn't ready yet.
	return cmd.Process.Pid, nil
}

func Stop(ctx context.Context, home string) (bool, error) {
	st, err := Status(ctx, home)
	if err != nil {
		return false, err
	}
	if !st.Running {
		return false, nil
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		// On unix FindProcess always succeeds; keep this for completeness.
		return false, errNotRunning
	}
	if err := signalTerm(proc); err != nil {
		return false, err
	}

	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if st2, _ := Status(ctx, home); !st2.Running {
			return true, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Kill()
	return true, nil
}

func Status(ctx context.Context, home string) (StatusInfo, error) {
	pb, err := os.ReadFile(pidPath(home))
	if err != nil {
		return StatusInfo{Running: false}, nil
	}
	pidStr := strings.TrimSpace(string(pb))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return StatusInfo{Running: false}, nil
	}

	if !processExists(pid) {
		_ = os.Remove(pidPath(home))
		return StatusInfo{Running: false}, nil
	}

	addr := ""
	if ab, err := os.ReadFile(addrPath(home)); err == nil {
		addr = strings.TrimSpace(string(ab))
	}
	if addr == "" {
		addr = "unknown"
	}
	return StatusInfo{Running: true, PID: pid, Addr: addr}, nil
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already in use", port)
	}
	_ = ln.Close()
	return nil
}
