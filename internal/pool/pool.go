// ABOUTME: Pool of per-library worker processes speaking line-delimited JSON-RPC.
// ABOUTME: Workers spawn lazily, serialize round trips, and are reaped when idle.

package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/2389/shelf-gateway/internal/config"
)

const (
	// reapInterval is how often the reaper checks for idle workers.
	reapInterval = 5 * time.Second

	// stopGrace is how long a worker gets to exit after SIGTERM before SIGKILL.
	stopGrace = 2 * time.Second
)

// Pool manages one worker process per library. Workers are spawned on first
// use, shared across callers, and shut down when idle past their timeout.
type Pool struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	nextID atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	reaperWG  sync.WaitGroup
}

type worker struct {
	library string
	libCfg  *config.LibraryConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	waitC  chan error

	stderrPath string
	stderrTemp bool
	stopOnce   sync.Once

	// exchMu serializes request/response round trips on the pipes.
	exchMu sync.Mutex

	// stateMu guards the idle-tracking fields below.
	stateMu  sync.Mutex
	active   int
	lastUsed time.Time
}

// New creates a worker pool and starts its idle reaper.
func New(cfg *config.Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		cfg:     cfg,
		logger:  logger.With("component", "pool"),
		workers: make(map[string]*worker),
		done:    make(chan struct{}),
	}
	p.reaperWG.Add(1)
	go p.reaper()
	return p
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *BackendError   `json:"error"`
}

// Call sends one request to the library's worker and returns its result.
// The worker is spawned if not already running. A context deadline bounds the
// round trip; on expiry the worker is killed and removed, because a stuck
// worker cannot be trusted with further requests.
func (p *Pool) Call(ctx context.Context, library, method string, params any) (json.RawMessage, error) {
	lib, err := p.cfg.Library(library)
	if err != nil {
		return nil, err
	}

	w, err := p.acquire(lib)
	if err != nil {
		return nil, err
	}

	defer func() {
		w.stateMu.Lock()
		w.active--
		w.lastUsed = time.Now()
		w.stateMu.Unlock()
	}()

	req := request{
		JSONRPC: "2.0",
		ID:      p.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	type outcome struct {
		result json.RawMessage
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := p.roundTrip(w, req)
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		// The pipe is now mid-message; the process has to go.
		p.remove(w, false)
		return nil, fmt.Errorf("request %q to library %q: %w", method, lib.Name, ctx.Err())
	}
}

// roundTrip performs one write-then-read exchange. The per-worker lock keeps
// concurrent callers from interleaving frames on the shared pipes.
func (p *Pool) roundTrip(w *worker, req request) (json.RawMessage, error) {
	w.exchMu.Lock()
	defer w.exchMu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	payload = append(payload, '\n')

	if _, err := w.stdin.Write(payload); err != nil {
		return nil, p.died(w, err)
	}

	for {
		line, err := w.reader.ReadString('\n')
		if err != nil {
			return nil, p.died(w, err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Workers may print diagnostics on stdout; only lines carrying the
		// protocol marker are treated as responses.
		if !strings.Contains(line, `"jsonrpc"`) {
			p.logger.Debug("discarding non-protocol worker output",
				"library", w.library, "line", line)
			continue
		}

		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			p.logger.Debug("discarding unparseable worker output",
				"library", w.library, "error", err)
			continue
		}

		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}

// died handles a broken pipe or EOF: the worker is removed and the error is
// enriched with whatever its stderr capture reveals.
func (p *Pool) died(w *worker, cause error) error {
	detail := extractWorkerError(w.stderrPath)
	p.remove(w, false)

	p.logger.Error("worker died", "library", w.library, "cause", cause, "detail", detail)
	if detail != "" {
		return fmt.Errorf("%w (library %q): %s", ErrWorkerExited, w.library, detail)
	}
	return fmt.Errorf("%w (library %q)", ErrWorkerExited, w.library)
}

// acquire returns the live worker for a library, spawning one if needed.
// The returned worker already counts the caller as active: claiming it while
// the pool lock is still held keeps the reaper from seeing a momentary idle
// worker between handoff and first use. Call releases the claim when done.
func (p *Pool) acquire(lib *config.LibraryConfig) (*worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("worker pool is shut down")
	}

	w, ok := p.workers[lib.Name]
	if !ok {
		var err error
		w, err = p.spawn(lib)
		if err != nil {
			return nil, err
		}
		p.workers[lib.Name] = w
	}

	w.stateMu.Lock()
	w.active++
	w.lastUsed = time.Now()
	w.stateMu.Unlock()
	return w, nil
}

func (p *Pool) spawn(lib *config.LibraryConfig) (*worker, error) {
	stderrFile, isTemp, err := p.stderrSink(lib.Name)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(p.cfg.Worker.Command, lib.Path)
	cmd.Stderr = stderrFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderrFile.Close()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stderrFile.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		if isTemp {
			os.Remove(stderrFile.Name())
		}
		return nil, fmt.Errorf("starting worker for library %q: %w", lib.Name, err)
	}
	// The child holds its own descriptor now.
	stderrFile.Close()

	w := &worker{
		library:    lib.Name,
		libCfg:     lib,
		cmd:        cmd,
		stdin:      stdin,
		reader:     bufio.NewReaderSize(stdout, 64*1024),
		waitC:      make(chan error, 1),
		stderrPath: stderrFile.Name(),
		stderrTemp: isTemp,
		lastUsed:   time.Now(),
	}
	go func() { w.waitC <- cmd.Wait() }()

	p.logger.Info("worker started",
		"library", lib.Name, "pid", cmd.Process.Pid, "path", lib.Path)
	return w, nil
}

// stderrSink opens the file worker stderr is captured to: a persistent
// per-library log when worker logging is enabled, a throwaway temp file
// otherwise.
func (p *Pool) stderrSink(library string) (*os.File, bool, error) {
	if p.cfg.Worker.EnableLogging && p.cfg.Worker.LogDir != "" {
		if err := os.MkdirAll(p.cfg.Worker.LogDir, 0o755); err != nil {
			return nil, false, fmt.Errorf("creating worker log dir: %w", err)
		}
		path := filepath.Join(p.cfg.Worker.LogDir, "worker-"+library+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("opening worker log: %w", err)
		}
		fmt.Fprintf(f, "--- Worker Started at %s ---\n", time.Now().Format(time.RFC3339))
		return f, false, nil
	}

	f, err := os.CreateTemp("", "shelf-worker-*.log")
	if err != nil {
		return nil, false, fmt.Errorf("creating worker stderr capture: %w", err)
	}
	return f, true, nil
}

// remove takes a worker out of the pool and stops its process. With graceful
// set, the process gets SIGTERM and a grace period before SIGKILL.
func (p *Pool) remove(w *worker, graceful bool) {
	p.mu.Lock()
	if current, ok := p.workers[w.library]; ok && current == w {
		delete(p.workers, w.library)
	}
	p.mu.Unlock()

	p.stop(w, graceful)

	if w.stderrTemp {
		os.Remove(w.stderrPath)
	}
}

func (p *Pool) stop(w *worker, graceful bool) {
	w.stopOnce.Do(func() {
		w.stdin.Close()

		if graceful {
			w.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-w.waitC:
				return
			case <-time.After(stopGrace):
			}
		}

		w.cmd.Process.Kill()
		select {
		case <-w.waitC:
		case <-time.After(stopGrace):
			p.logger.Warn("worker did not exit after kill", "library", w.library)
		}
	})
}

// reaper periodically shuts down workers that have been idle past their
// effective timeout. A timeout of zero means the worker lives forever.
func (p *Pool) reaper() {
	defer p.reaperWG.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	candidates := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		candidates = append(candidates, w)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, w := range candidates {
		timeout := p.cfg.EffectiveIdleTimeout(w.libCfg)
		if timeout <= 0 {
			continue
		}

		w.stateMu.Lock()
		idle := w.active == 0 && now.Sub(w.lastUsed) > timeout
		w.stateMu.Unlock()

		if idle {
			p.logger.Info("reaping idle worker", "library", w.library, "idle_timeout", timeout)
			p.remove(w, true)
		}
	}
}

// ActiveLibraries lists the libraries that currently have a running worker.
func (p *Pool) ActiveLibraries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.workers))
	for name := range p.workers {
		out = append(out, name)
	}
	return out
}

// Shutdown stops the reaper and all workers. Temp stderr captures are removed;
// persistent worker logs are kept. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.reaperWG.Wait()

		p.mu.Lock()
		p.closed = true
		workers := make([]*worker, 0, len(p.workers))
		for _, w := range p.workers {
			workers = append(workers, w)
		}
		p.workers = make(map[string]*worker)
		p.mu.Unlock()

		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *worker) {
				defer wg.Done()
				p.stop(w, true)
				if w.stderrTemp {
					os.Remove(w.stderrPath)
				}
			}(w)
		}
		wg.Wait()

		p.logger.Info("worker pool shut down", "workers_stopped", len(workers))
	})
}
