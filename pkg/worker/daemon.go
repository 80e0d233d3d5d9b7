package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/loader"
)

// noopModuleCache satisfies loader.ModuleCache for a daemon's Loader.
// The module cache pkg/loader purges lives inside the daemon's own
// interpreter process, not this one — that process purges it against
// the search_path and provided_modules this Loader hands the subprocess
// over the wire, so there is nothing local to track.
type noopModuleCache struct{}

func (noopModuleCache) Loaded() []string     { return nil }
func (noopModuleCache) Purge(names []string) {}

// rpcRequest is the line-delimited JSON-RPC-shaped frame sent to a
// daemon's stdin (spec Section 4.6: "[ADDED] Wire protocol"): one
// id/method/params JSON object per line.
type rpcRequest struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// rpcResponse is what a daemon writes back, one per line.
type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// daemon owns one child process addressed over its stdin/stdout pipe.
type daemon struct {
	binary string
	args   []string
	scrub  []string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int]chan rpcResponse
	nextID    int

	stateMu      sync.Mutex
	activeBubble string
	touchedAt    time.Time

	newLoader      func() *loader.Loader
	loaderMu       sync.Mutex
	ld             *loader.Loader
	deactivatePrev loader.Deactivate
}

func startDaemon(binary string, args, scrubKeys []string, newLoader func() *loader.Loader) (*daemon, error) {
	d := &daemon{
		binary:    binary,
		args:      args,
		scrub:     scrubKeys,
		pending:   map[int]chan rpcResponse{},
		newLoader: newLoader,
	}
	if err := d.launch(); err != nil {
		return nil, err
	}
	return d, nil
}

// launch starts (or restarts) the child process with a scrubbed
// environment (spec Section 4.6: "Isolation" — workers scrub inherited
// environment variables that could leak the parent's package state
// before activating their configured bubble).
func (d *daemon) launch() error {
	cmd := exec.Command(d.binary, d.args...)
	cmd.Env = scrubEnv(os.Environ(), d.scrub)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open daemon stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open daemon stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stateMu.Lock()
	d.activeBubble = ""
	d.touchedAt = time.Now()
	d.stateMu.Unlock()

	// A fresh process has no activation state, so its Loader starts
	// clean too — a restart discards whatever frame the old process's
	// Loader had pushed rather than trying to reconcile it.
	d.loaderMu.Lock()
	d.ld = d.newLoader()
	d.deactivatePrev = nil
	d.loaderMu.Unlock()

	go d.readLoop(stdout)
	return nil
}

// readLoop demultiplexes line-delimited responses to their waiting
// caller by request id.
func (d *daemon) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		d.pendingMu.Lock()
		ch, ok := d.pending[resp.ID]
		if ok {
			delete(d.pending, resp.ID)
		}
		d.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (d *daemon) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal daemon request: %w", err)
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write daemon request: %w", err)
	}
	return nil
}

func (d *daemon) registerPending() (int, chan rpcResponse) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.nextID++
	id := d.nextID
	ch := make(chan rpcResponse, 1)
	d.pending[id] = ch
	return id, ch
}

// ensureBubble activates bubbleSpec on this daemon if it isn't already
// active, blocking for the activation response. The search path it
// sends the subprocess is computed by this daemon's own Loader (spec
// Section 4.6 is built on the Runtime Loader Protocol of Section 4.5,
// spec.md:42) rather than left for the subprocess to derive on its own.
func (d *daemon) ensureBubble(ctx context.Context, bubbleSpec string) error {
	d.stateMu.Lock()
	current := d.activeBubble
	d.stateMu.Unlock()
	if current == bubbleSpec {
		return nil
	}

	searchPath, err := d.activateOverlay(ctx, bubbleSpec)
	if err != nil {
		return err
	}

	id, ch := d.registerPending()
	params := map[string]any{"bubble_spec": bubbleSpec, "search_path": searchPath}
	if err := d.send(rpcRequest{ID: id, Method: "activate", Params: params}); err != nil {
		return err
	}
	resp := <-ch
	if resp.Error != "" {
		return fmt.Errorf("activate %s: %s", bubbleSpec, resp.Error)
	}

	d.stateMu.Lock()
	d.activeBubble = bubbleSpec
	d.touchedAt = time.Now()
	d.stateMu.Unlock()
	return nil
}

// activateOverlay runs the Loader's activation steps for bubbleSpec on
// this daemon's own stack, deactivating whatever bubble was previously
// active first — a daemon holds exactly one bubble at a time, so
// switching is a swap rather than a nested push. An empty bubbleSpec
// means "back to the main environment": it only deactivates and returns
// the Loader's now-restored base search path.
func (d *daemon) activateOverlay(ctx context.Context, bubbleSpec string) ([]string, error) {
	d.loaderMu.Lock()
	defer d.loaderMu.Unlock()

	if d.deactivatePrev != nil {
		d.deactivatePrev()
		d.deactivatePrev = nil
	}
	if bubbleSpec == "" {
		return d.ld.SearchPath(), nil
	}

	name, version, ok := splitBubbleSpec(bubbleSpec)
	if !ok {
		return nil, fmt.Errorf("invalid bubble spec %q, want name==version", bubbleSpec)
	}
	deactivate, err := d.ld.Activate(ctx, name, version)
	if err != nil {
		return nil, fmt.Errorf("compute activation overlay for %s: %w", bubbleSpec, err)
	}
	d.deactivatePrev = deactivate
	return d.ld.SearchPath(), nil
}

// splitBubbleSpec parses a "name==version" bubble spec, the same
// convention cmd/bub's parseSpec validates on the way in.
func splitBubbleSpec(spec string) (name, version string, ok bool) {
	name, version, found := strings.Cut(spec, "==")
	if !found || name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

// dispatch sends an execute request and returns a Handle whose
// resultCh is fed by a background goroutine once the response (or a
// timeout upstream) arrives.
func (d *daemon) dispatch(bubbleSpec, code, token string) (*Handle, error) {
	id, ch := d.registerPending()

	params := map[string]any{"bubble_spec": bubbleSpec, "code": code}
	if token != "" {
		params["auth_token"] = token
	}
	if err := d.send(rpcRequest{ID: id, Method: "execute", Params: params}); err != nil {
		return nil, err
	}

	d.stateMu.Lock()
	d.touchedAt = time.Now()
	d.stateMu.Unlock()

	handle := &Handle{
		ID:        strconv.Itoa(id),
		daemon:    d,
		requestID: id,
		resultCh:  make(chan asyncResult, 1),
	}

	go func() {
		resp := <-ch
		if resp.Error != "" {
			handle.resultCh <- asyncResult{err: fmt.Errorf("daemon execute failed: %s", resp.Error)}
			return
		}
		var result Result
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			handle.resultCh <- asyncResult{err: fmt.Errorf("parse daemon result: %w", err)}
			return
		}
		handle.resultCh <- asyncResult{result: result}
	}()

	return handle, nil
}

// cancel sends a cancellation control message for requestID. If no
// acknowledgement arrives within grace, the daemon is killed and
// restarted; other in-flight requests on this daemon will fail and
// should be retried by their callers, but the pool itself keeps
// serving the interpreter version under a fresh process.
func (d *daemon) cancel(requestID int, grace time.Duration) error {
	ackID, ackCh := d.registerPending()
	if err := d.send(rpcRequest{ID: ackID, Method: "cancel", Params: map[string]any{"target_id": requestID}}); err != nil {
		return d.restart()
	}

	select {
	case <-ackCh:
		return nil
	case <-time.After(grace):
		return d.restart()
	}
}

// restart kills the current process and launches a replacement in
// place, so the *daemon pointer held by the pool keeps working.
func (d *daemon) restart() error {
	_ = d.stop()
	d.pendingMu.Lock()
	d.pending = map[int]chan rpcResponse{}
	d.pendingMu.Unlock()
	return d.launch()
}

func (d *daemon) stop() error {
	if d.stdin != nil {
		_ = d.stdin.Close()
	}
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	return nil
}

func (d *daemon) lastUsed() time.Time {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.touchedAt
}

// scrubEnv returns env with every variable named in scrubKeys removed.
func scrubEnv(env, scrubKeys []string) []string {
	scrub := make(map[string]bool, len(scrubKeys))
	for _, k := range scrubKeys {
		scrub[k] = true
	}
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if scrub[name] {
			continue
		}
		out = append(out, kv)
	}
	return out
}
