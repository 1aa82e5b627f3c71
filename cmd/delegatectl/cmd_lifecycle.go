package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/config"
	"github.com/user/coredelegate/internal/cron"
)

var errNotRunning = errors.New("no running daemon")

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)

	stopCmd.Flags().Duration("wait", 0, "wait up to this long for the daemon to exit")
}

// pidLock guards the PID file. serve holds it for its whole lifetime, so a
// free lock means any PID file left behind is stale.
func pidLock(cfg *config.Config) *flock.Flock {
	return flock.New(cfg.PIDPath() + ".lock")
}

// acquirePIDFile takes the daemon lock and records our PID. The returned
// func releases both.
func acquirePIDFile(cfg *config.Config) (func(), error) {
	lock := pidLock(cfg)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("daemon already running (see %s)", cfg.PIDPath())
	}
	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return func() {
		os.Remove(pidPath)
		lock.Unlock()
	}, nil
}

// findDaemon returns the running daemon's process.
func findDaemon(cfg *config.Config) (*os.Process, error) {
	lock := pidLock(cfg)
	if ok, err := lock.TryLock(); err == nil && ok {
		lock.Unlock()
		return nil, errNotRunning
	}

	data, err := os.ReadFile(cfg.PIDPath())
	if os.IsNotExist(err) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid PID file %s: %w", cfg.PIDPath(), err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, fmt.Errorf("%w (process %d gone)", errNotRunning, pid)
	}
	return proc, nil
}

func alive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		proc, err := findDaemon(loadConfig())
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}
		if wait <= 0 {
			fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", proc.Pid)
			return nil
		}

		deadline := time.Now().Add(wait)
		for alive(proc) {
			if time.Now().After(deadline) {
				return fmt.Errorf("daemon (PID %d) still running after %s", proc.Pid, wait)
			}
			time.Sleep(100 * time.Millisecond)
		}
		fmt.Fprintf(os.Stdout, "Daemon (PID %d) stopped.\n", proc.Pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon in place",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := findDaemon(loadConfig())
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return fmt.Errorf("send SIGHUP: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d), it will re-exec.\n", proc.Pid)
		return nil
	},
}

// fetchJobs asks a running daemon for its cron status over the HTTP API.
func fetchJobs(cfg *config.Config) ([]cron.JobStatus, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+cfg.HTTP.Listen+"/api/cron", nil)
	if err != nil {
		return nil, err
	}
	if cfg.HTTP.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.HTTP.Token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon answered %s", resp.Status)
	}
	var jobs []cron.JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode cron status: %w", err)
	}
	return jobs, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon runs and what its cron jobs are doing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		proc, err := findDaemon(cfg)
		if errors.Is(err, errNotRunning) {
			fmt.Fprintln(os.Stdout, "Daemon is not running.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Daemon running (PID %d).\n", proc.Pid)
		if !cfg.HTTP.Enabled {
			return nil
		}

		jobs, err := fetchJobs(cfg)
		if err != nil {
			return fmt.Errorf("query daemon at %s: %w", cfg.HTTP.Listen, err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULED\tRUNNING\tNEXT RUN\tFAILURES\tLAST ERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%v\t%v\t%s\t%d\t%s\n",
				j.Name, j.Scheduled, j.InFlight, formatTime(j.NextRun), j.Failures, j.LastError)
		}
		return w.Flush()
	},
}
