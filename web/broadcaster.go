package web

import (
	"encoding/json"
	"sync"
	"time"

	"cmux-remote/bridge"
	"cmux-remote/log"
	"cmux-remote/session"
	"cmux-remote/tmux"
	"cmux-remote/web/handlers"
	"cmux-remote/web/types"
)

const (
	stateInterval = 2 * time.Second
	pingInterval  = 30 * time.Second
	reapInterval  = 15 * time.Second

	// tmuxRefreshInterval throttles how often the broadcaster shells out to
	// tmux; the state tick reuses the cached snapshot in between.
	tmuxRefreshInterval = 10 * time.Second
)

// Broadcaster owns the set of state clients and the periodic work behind the
// /ws channel: the workspace/tmux state broadcast, keep-alive pings, orphan
// reaping and notification fan-out. Sends happen on background workers so a
// slow socket never stalls a tick.
type Broadcaster struct {
	executor    *bridge.Executor
	host        types.Host
	manager     *session.Manager
	coordinator *tmux.Coordinator

	mu              sync.Mutex
	clients         map[*handlers.Client]struct{}
	tmuxCache       []types.TmuxSessionInfo
	tmuxRefreshedAt time.Time
	tmuxRefreshing  bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBroadcaster wires a broadcaster; call Start to begin ticking.
func NewBroadcaster(executor *bridge.Executor, host types.Host, manager *session.Manager, coordinator *tmux.Coordinator) *Broadcaster {
	return &Broadcaster{
		executor:    executor,
		host:        host,
		manager:     manager,
		coordinator: coordinator,
		clients:     make(map[*handlers.Client]struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the state, ping and reap timers.
func (b *Broadcaster) Start() {
	b.wg.Add(3)
	go b.tickLoop(stateInterval, b.broadcastState)
	go b.tickLoop(pingInterval, b.broadcastPing)
	go b.tickLoop(reapInterval, b.reapOrphans)
}

// Stop ends every timer and waits for them to exit. In-flight fan-out
// workers finish on their own; they hold only a snapshot of the client set.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Broadcaster) tickLoop(interval time.Duration, tick func()) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-b.done:
			return
		}
	}
}

// Register adds a state client to the broadcast set.
func (b *Broadcaster) Register(c *handlers.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

// Unregister removes a state client.
func (b *Broadcaster) Unregister(c *handlers.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}

// ClientCount returns the number of connected state clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ForwardNotification pushes one notification to every state client. The
// host hands these over as they happen; clients that connect later never see
// them.
func (b *Broadcaster) ForwardNotification(n types.Notification) {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		types.Notification
	}{Type: "notification", Notification: n})
	if err != nil {
		log.FileOnlyErrorLog.Printf("broadcast: marshaling notification: %v", err)
		return
	}
	b.fanOut(payload)
}

// broadcastState sends the workspace and tmux snapshot to every state
// client. With nobody connected it does nothing, not even the tmux refresh.
func (b *Broadcaster) broadcastState() {
	if b.ClientCount() == 0 {
		return
	}

	b.maybeRefreshTmux()

	var workspaces []types.Workspace
	b.executor.Sync(func() { workspaces = b.host.Workspaces() })
	if workspaces == nil {
		workspaces = []types.Workspace{}
	}

	b.mu.Lock()
	tmuxSessions := b.tmuxCache
	b.mu.Unlock()
	if tmuxSessions == nil {
		tmuxSessions = []types.TmuxSessionInfo{}
	}

	payload, err := json.Marshal(types.StateMessage{
		Type:         "state",
		Data:         workspaces,
		TmuxSessions: tmuxSessions,
	})
	if err != nil {
		log.FileOnlyErrorLog.Printf("broadcast: marshaling state: %v", err)
		return
	}
	b.fanOut(payload)
}

func (b *Broadcaster) broadcastPing() {
	if b.ClientCount() == 0 {
		return
	}
	b.fanOut([]byte(`{"type":"ping"}`))
}

var reapLogEvery = log.NewEvery(time.Minute)

func (b *Broadcaster) reapOrphans() {
	b.runWorker(func() {
		if n := b.manager.ReapOrphans(); n > 0 {
			log.FileOnlyInfoLog.Printf("reaped %d orphaned sessions", n)
		} else if reapLogEvery.ShouldLog() {
			log.FileOnlyInfoLog.Printf("reaper tick: %d sessions live", b.manager.SessionCount())
		}
	})
}

// maybeRefreshTmux refreshes the cached tmux snapshot at most every
// tmuxRefreshInterval, listing on a background worker so the tick never
// waits on a subprocess.
func (b *Broadcaster) maybeRefreshTmux() {
	b.mu.Lock()
	if b.tmuxRefreshing || time.Since(b.tmuxRefreshedAt) < tmuxRefreshInterval {
		b.mu.Unlock()
		return
	}
	b.tmuxRefreshing = true
	b.mu.Unlock()

	b.runWorker(func() {
		sessions := b.coordinator.ListActiveSessions()
		infos := make([]types.TmuxSessionInfo, 0, len(sessions))
		for _, s := range sessions {
			infos = append(infos, types.TmuxSessionInfo{
				Name:        s.Name,
				Created:     s.Created.UTC().Format(time.RFC3339),
				WindowCount: s.WindowCount,
				Attached:    s.Attached,
				CurrentPath: s.CurrentPath,
			})
		}

		b.mu.Lock()
		b.tmuxCache = infos
		b.tmuxRefreshedAt = time.Now()
		b.tmuxRefreshing = false
		b.mu.Unlock()
	})
}

// fanOut sends one payload to a snapshot of the current clients from a
// background worker. A failed send is left for the client's own read loop to
// notice and unregister.
func (b *Broadcaster) fanOut(payload []byte) {
	b.mu.Lock()
	clients := make([]*handlers.Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	if len(clients) == 0 {
		return
	}
	b.runWorker(func() {
		for _, c := range clients {
			if err := c.Send(string(payload)); err != nil {
				log.FileOnlyInfoLog.Printf("broadcast: send to %s failed: %v", c.RemoteAddr(), err)
			}
		}
	})
}

// runWorker runs fn on its own goroutine with panic isolation; a panicking
// worker must never take the server down.
func (b *Broadcaster) runWorker(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.FileOnlyErrorLog.Printf("broadcast: worker panic: %v", r)
			}
		}()
		fn()
	}()
}
