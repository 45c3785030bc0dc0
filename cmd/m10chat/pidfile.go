package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "m10chat.pid"

// pidFile records the serve process id inside the data dir.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, pidFileName))
}

func (p pidFile) write() error {
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func (p pidFile) remove() {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "remove PID file: %v\n", err)
	}
}

// running returns the recorded pid after probing it with signal 0.
func (p pidFile) running() (int, error) {
	data, err := os.ReadFile(string(p))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, errors.New("no running server (PID file not found)")
	case err != nil:
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("PID file %s is corrupt", p)
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("no running server (stale PID %d)", pid)
	}
	return pid, nil
}
