package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"cmux-remote/log"
)

// RateLimit creates middleware limiting non-WebSocket requests per client IP.
// API endpoints get a higher allowance than static assets; WebSocket upgrades
// are exempt because a single long-lived connection carries many messages.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	const apiRequestsLimit = 1000

	type client struct {
		count     int
		apiCount  int
		lastReset time.Time
	}

	clients := make(map[string]*client)
	var mu sync.Mutex

	// Drop idle entries so the map does not grow with every IP ever seen.
	go func() {
		for range time.Tick(window) {
			mu.Lock()
			for ip, c := range clients {
				if time.Since(c.lastReset) > window*2 {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWebSocketRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			mu.Lock()
			c, exists := clients[ip]
			if !exists {
				c = &client{lastReset: time.Now()}
				clients[ip] = c
			}
			if time.Since(c.lastReset) > window {
				c.count = 0
				c.apiCount = 0
				c.lastReset = time.Now()
			}

			limitExceeded := false
			if strings.HasPrefix(r.URL.Path, "/api/") {
				if c.apiCount >= apiRequestsLimit {
					limitExceeded = true
				} else {
					c.apiCount++
				}
			} else {
				if c.count >= requests {
					limitExceeded = true
				} else {
					c.count++
				}
			}
			mu.Unlock()

			if limitExceeded {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				log.FileOnlyWarningLog.Printf("Rate limit exceeded for %s on %s", ip, r.URL.Path)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isWebSocketRequest checks the standard upgrade headers plus the known
// WebSocket paths.
func isWebSocketRequest(r *http.Request) bool {
	isUpgrade := strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
	return isUpgrade || strings.HasPrefix(r.URL.Path, "/ws")
}
