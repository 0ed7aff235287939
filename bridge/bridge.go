package bridge

import (
	"encoding/json"
	"strings"
	"time"

	"cmux-remote/log"
	"cmux-remote/web/types"
)

// commandTimeout bounds how long a request thread waits for the host to
// answer a command.
const commandTimeout = 10 * time.Second

const timeoutReply = `{"ok":false,"error":"Command timed out"}`

// Bridge translates a request-thread command string into a host reply. The
// host only ever runs on the executor; the caller blocks on a reply channel
// with a timeout.
type Bridge struct {
	executor *Executor
	host     types.Host
	timeout  time.Duration
}

// New returns a bridge with the default timeout.
func New(executor *Executor, host types.Host) *Bridge {
	return &Bridge{executor: executor, host: host, timeout: commandTimeout}
}

// NewWithTimeout returns a bridge with a custom timeout. Tests use short
// timeouts so the timed-out path runs in milliseconds.
func NewWithTimeout(executor *Executor, host types.Host, timeout time.Duration) *Bridge {
	return &Bridge{executor: executor, host: host, timeout: timeout}
}

// Execute forwards one command to the host and waits for its reply, decoded
// per decodeReply. A timeout yields {"ok":false,"error":"Command timed out"}.
func (b *Bridge) Execute(command string) string {
	replyCh := make(chan string, 1)
	b.executor.Schedule(func() {
		b.host.HandleCommand(command, func(reply string) {
			select {
			case replyCh <- reply:
			default:
			}
		})
	})

	select {
	case reply := <-replyCh:
		return decodeReply(reply)
	case <-time.After(b.timeout):
		log.FileOnlyWarningLog.Printf("command timed out after %s: %.120s", b.timeout, command)
		return timeoutReply
	}
}

// ExecuteCorrelated is the WebSocket variant: when the inbound command
// carries an id, the same id is stamped into the reply so the client can
// match them up. The id is merged via structured JSON, never string
// concatenation, so replies containing quotes or backslashes stay intact.
func (b *Bridge) ExecuteCorrelated(command string) string {
	var req struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal([]byte(command), &req)

	reply := b.Execute(command)
	if len(req.ID) == 0 {
		return reply
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(reply), &obj); err != nil || obj == nil {
		wrapped, werr := json.Marshal(map[string]any{"id": req.ID, "result": reply})
		if werr != nil {
			return reply
		}
		return string(wrapped)
	}
	obj["id"] = req.ID
	out, err := json.Marshal(obj)
	if err != nil {
		return reply
	}
	return string(out)
}

// decodeReply normalizes host replies: a JSON object passes through as-is, an
// empty reply means plain success, anything else is wrapped as a result
// string.
func decodeReply(reply string) string {
	if reply == "" {
		return `{"ok":true}`
	}
	if isJSONObject(reply) {
		return reply
	}
	wrapped, err := json.Marshal(map[string]any{"ok": true, "result": reply})
	if err != nil {
		return `{"ok":true}`
	}
	return string(wrapped)
}

func isJSONObject(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "{") && json.Valid([]byte(t))
}
