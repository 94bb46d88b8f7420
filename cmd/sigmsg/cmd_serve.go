package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digitalbodhi/sigmsg/internal/config"
	"github.com/digitalbodhi/sigmsg/internal/gateway"
	"github.com/digitalbodhi/sigmsg/internal/metrics"
	"github.com/digitalbodhi/sigmsg/internal/scheduler"
	"github.com/digitalbodhi/sigmsg/internal/session"
	"github.com/digitalbodhi/sigmsg/internal/state"
	"github.com/digitalbodhi/sigmsg/internal/supervisor"
)

const pidFileName = "sigmsg.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the daemon and serve the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	log := slog.Default()
	m := metrics.New()

	// Signal handlers are installed by Run before any activity starts.
	sup := supervisor.New(
		supervisor.WithLogger(log),
		supervisor.WithDrainTimeout(cfg.ShutdownTimeout),
	)

	sess := session.New(session.Options{
		Addr: cfg.DaemonAddr(),
		Account: session.Account{
			Number:     cfg.Account.Number,
			Name:       cfg.Account.Name,
			GivenName:  cfg.Account.GivenName,
			FamilyName: cfg.Account.FamilyName,
		},
		AutoReply: cfg.AutoReply,
		Log:       log,
		Metrics:   m,
		Reporter:  sup,
	})
	sup.OnFatal(func(error) { sess.Close() })

	srv := gateway.NewServer(sess, gateway.Options{
		Listen:    cfg.Gateway.Listen,
		RateLimit: cfg.Gateway.RateLimit.RPS,
		Burst:     cfg.Gateway.RateLimit.Burst,
		Metrics:   m,
		Log:       log,
	})
	sess.Registry().Observe(srv.Hub().Publish)

	store := state.NewScheduleStore(state.DefaultSchedulePath(cfg.DataDir))
	sched := scheduler.New(store, func(ctx context.Context, sc *state.Schedule) error {
		return sess.SendMessage(ctx, sc.Recipients, sc.Message, nil, sc.Group)
	}, m, log)

	sup.Go("connect", sess.RunConnect)
	sup.Go("dispatch", sess.RunDispatch)
	sup.Go("gateway", func(ctx context.Context) error {
		return sess.RunGateway(ctx, srv)
	})
	sup.Go("scheduler", sched.Run)
	sup.Go("schedule-watcher", sched.Watch)
	sup.Go("session-watchdog", func(ctx context.Context) error {
		select {
		case <-sess.Done():
			sup.Shutdown("session completed")
		case <-ctx.Done():
		}
		return nil
	})

	log.Info("sigmsg started",
		"daemon", cfg.DaemonAddr(),
		"listen", cfg.Gateway.Listen,
		"account", config.MaskSecret(cfg.Account.Number),
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"pid_file", pidPath,
	)

	runErr := sup.Run(context.Background())
	if errors.Is(runErr, supervisor.ErrDrainTimeout) {
		log.Warn("stopped before every activity finished", "cause", sup.Cause())
	} else {
		log.Info("stopped", "cause", sup.Cause())
	}

	if sup.Signal() == syscall.SIGHUP {
		log.Info("received SIGHUP, restarting")
		os.Remove(pidPath)
		if err := reexec(); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
	}
	return runErr
}

// reexec replaces the current process with a fresh copy of itself.
func reexec() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	return syscall.Exec(execPath, os.Args, os.Environ())
}
