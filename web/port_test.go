package web

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// withPortStubs swaps the lsof/kill hooks for a test and restores them after.
func withPortStubs(t *testing.T, list func(int) ([]int, error), kill func(int) error) {
	t.Helper()
	origList, origKill := listPortPIDs, killPID
	listPortPIDs = list
	killPID = kill
	t.Cleanup(func() {
		listPortPIDs = origList
		killPID = origKill
	})
}

func TestReleasePortFreePortReturnsImmediately(t *testing.T) {
	calls := 0
	withPortStubs(t,
		func(port int) ([]int, error) {
			calls++
			return nil, nil
		},
		func(pid int) error {
			t.Errorf("killed pid %d on a free port", pid)
			return nil
		},
	)

	start := time.Now()
	releasePort(4848)
	if elapsed := time.Since(start); elapsed > portPollInterval {
		t.Errorf("free port took %s to release, want a single check", elapsed)
	}
	if calls != 1 {
		t.Errorf("lsof called %d times for a free port, want 1", calls)
	}
}

func TestReleasePortKillsForeignHolders(t *testing.T) {
	var mu sync.Mutex
	holders := []int{12345, 23456}
	var killed []int

	withPortStubs(t,
		func(port int) ([]int, error) {
			mu.Lock()
			defer mu.Unlock()
			return append([]int(nil), holders...), nil
		},
		func(pid int) error {
			mu.Lock()
			defer mu.Unlock()
			killed = append(killed, pid)
			// The OS releases the port a beat after the kill.
			for i, h := range holders {
				if h == pid {
					holders = append(holders[:i], holders[i+1:]...)
					break
				}
			}
			return nil
		},
	)

	releasePort(4848)

	mu.Lock()
	defer mu.Unlock()
	if len(killed) != 2 {
		t.Errorf("killed %v, want both holders", killed)
	}
	if len(holders) != 0 {
		t.Errorf("holders %v still present after release", holders)
	}
}

func TestReleasePortIgnoresOwnPID(t *testing.T) {
	// Simulate ourselves already holding the port, e.g. a half-closed
	// listener; we must never SIGKILL our own process.
	self := os.Getpid()
	withPortStubs(t,
		func(port int) ([]int, error) {
			return []int{self}, nil
		},
		func(pid int) error {
			t.Fatalf("attempted to kill own pid %d", pid)
			return nil
		},
	)

	releasePort(4848)
}

func TestReleasePortListingErrorTreatedAsFree(t *testing.T) {
	withPortStubs(t,
		func(port int) ([]int, error) {
			return nil, fmt.Errorf("lsof: command not found")
		},
		func(pid int) error {
			t.Errorf("killed pid %d despite listing error", pid)
			return nil
		},
	)

	start := time.Now()
	releasePort(4848)
	if elapsed := time.Since(start); elapsed > portPollInterval {
		t.Errorf("listing error stalled release for %s", elapsed)
	}
}
