package web

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"cmux-remote/log"

	"golang.org/x/sys/unix"
)

const (
	portPollInterval   = 100 * time.Millisecond
	portReleaseTimeout = 3 * time.Second
)

// listPortPIDs returns the PIDs of processes holding the TCP port. Swappable
// for tests.
var listPortPIDs = func(port int) ([]int, error) {
	// -ti prints bare PIDs, one per line. Exit status 1 means no match.
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// killPID force-kills one process. Swappable for tests.
var killPID = func(pid int) error {
	// SIGKILL, not SIGTERM: the port has to be free right now for our bind.
	return unix.Kill(pid, unix.SIGKILL)
}

// releasePort evicts stale processes holding the port and waits for the OS
// to release it. Listing errors mean nothing is holding the port, which is
// the common case; they are logged at most and ignored.
func releasePort(port int) {
	pids := foreignPIDs(port)
	if len(pids) == 0 {
		return
	}

	for _, pid := range pids {
		log.FileOnlyInfoLog.Printf("port %d held by pid %d, killing", port, pid)
		if err := killPID(pid); err != nil {
			log.FileOnlyWarningLog.Printf("could not kill pid %d: %v", pid, err)
		}
	}

	deadline := time.Now().Add(portReleaseTimeout)
	for time.Now().Before(deadline) {
		if len(foreignPIDs(port)) == 0 {
			return
		}
		time.Sleep(portPollInterval)
	}
	log.WarningLog.Printf("port %d still held after %s, binding may fail", port, portReleaseTimeout)
}

// foreignPIDs lists holders of the port excluding ourselves.
func foreignPIDs(port int) []int {
	pids, err := listPortPIDs(port)
	if err != nil {
		return nil
	}
	self := os.Getpid()
	var foreign []int
	for _, pid := range pids {
		if pid != self {
			foreign = append(foreign, pid)
		}
	}
	return foreign
}
