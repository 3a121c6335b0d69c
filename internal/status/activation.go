package status

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// listenFDsStart is the first file descriptor systemd passes
// (0=stdin, 1=stdout, 2=stderr).
const listenFDsStart = 3

// activatedListener returns the first socket passed by systemd socket
// activation, or nil when the process was not socket activated.
func activatedListener() (net.Listener, error) {
	n, err := activatedFDs(os.Getenv, os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}

	file := os.NewFile(uintptr(listenFDsStart), "systemd-socket-0")
	if file == nil {
		return nil, fmt.Errorf("failed to create file for fd %d", listenFDsStart)
	}
	defer func() {
		_ = file.Close()
	}() // the listener holds its own dup

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", listenFDsStart, err)
	}

	// Keep child processes (git) from inheriting the activation.
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listener, nil
}

// activatedFDs returns how many sockets were passed to process pid.
func activatedFDs(getenv func(string) string, pid int) (int, error) {
	pidStr := getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	want, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if want != pid {
		return 0, nil
	}

	fdsStr := getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Activated reports whether the process was started with sockets passed by
// systemd.
func Activated() bool {
	n, err := activatedFDs(os.Getenv, os.Getpid())
	return err == nil && n > 0
}
