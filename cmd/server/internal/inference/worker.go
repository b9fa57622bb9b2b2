package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

// closeTimeout bounds how long Close waits for a graceful shutdown.
const closeTimeout = 5 * time.Second

// ErrWorkerExited is returned once the worker process is gone.
var ErrWorkerExited = errors.New("inference worker exited")

// workerRequest is one JSON line written to the worker's stdin.
type workerRequest struct {
	ID   int64  `json:"id"`
	Op   string `json:"op"` // load, synthesize, clear_cache, shutdown
	*Paths
	*SynthesisRequest
}

// workerResponse is one JSON line read from the worker's stdout.
type workerResponse struct {
	ID         int64     `json:"id"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	GPU        bool      `json:"gpu,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Wav        []float32 `json:"wav,omitempty"`
}

// ProcessLoader starts one long-lived worker process per loaded model. The
// worker speaks JSON lines: one request per line on stdin, one response per
// line on stdout; stderr is logged.
type ProcessLoader struct {
	argv []string
	env  map[string]string
}

// NewProcessLoader creates a loader for the given program and leading arguments.
func NewProcessLoader(argv []string, env map[string]string) *ProcessLoader {
	return &ProcessLoader{argv: argv, env: env}
}

// Load implements Loader.
func (l *ProcessLoader) Load(ctx context.Context, paths Paths) (Model, error) {
	if len(l.argv) == 0 {
		return nil, fmt.Errorf("inference command is not configured")
	}
	w, err := startWorker(l.argv, l.env)
	if err != nil {
		metrics.RecordCommandExecution("inference", "failed")
		return nil, err
	}
	resp, err := w.call(ctx, workerRequest{Op: "load", Paths: &paths})
	if err != nil {
		w.Close()
		metrics.RecordCommandExecution("inference", "failed")
		return nil, err
	}
	w.gpu = resp.GPU
	metrics.RecordCommandExecution("inference", "success")
	return w, nil
}

type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	done   chan struct{}
	gpu    bool

	mu     sync.Mutex
	nextID int64
	closed bool
}

func startWorker(argv []string, env map[string]string) (*processWorker, error) {
	// The worker outlives any single request, so it is not bound to a request context.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start inference worker: %w", err)
	}

	w := &processWorker{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), done: make(chan struct{})}
	log := logger.L().With("component", "inference_worker", "pid", cmd.Process.Pid)
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug("worker stderr", "line", sc.Text())
		}
	}()
	go func() {
		err := cmd.Wait()
		log.Info("inference worker exited", "error", err)
		close(w.done)
	}()
	return w, nil
}

// call sends one request and waits for the matching response. Requests are
// serialized; a cancelled context kills the worker.
func (w *processWorker) call(ctx context.Context, req workerRequest) (*workerResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerExited
	}
	w.nextID++
	req.ID = w.nextID

	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkerExited, err)
	}

	type result struct {
		resp *workerResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			raw, err := w.stdout.ReadBytes('\n')
			if err != nil {
				ch <- result{err: fmt.Errorf("%w: %v", ErrWorkerExited, err)}
				return
			}
			var resp workerResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				// not a protocol line (library chatter on stdout)
				continue
			}
			if resp.ID != 0 && resp.ID != req.ID {
				continue
			}
			ch <- result{resp: &resp}
			return
		}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			w.closed = true
			return nil, r.err
		}
		if !r.resp.OK {
			return r.resp, fmt.Errorf("%s failed: %s", req.Op, r.resp.Error)
		}
		return r.resp, nil
	case <-ctx.Done():
		w.kill()
		<-ch
		return nil, ctx.Err()
	}
}

func (w *processWorker) kill() {
	w.closed = true
	if w.cmd.Process != nil {
		syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
	}
}

// Synthesize implements Model.
func (w *processWorker) Synthesize(ctx context.Context, req SynthesisRequest) ([]float32, int, error) {
	resp, err := w.call(ctx, workerRequest{Op: "synthesize", SynthesisRequest: &req})
	if err != nil {
		return nil, 0, err
	}
	rate := resp.SampleRate
	if rate == 0 {
		rate = OutputSampleRate
	}
	return resp.Wav, rate, nil
}

// ClearCache implements Model.
func (w *processWorker) ClearCache(ctx context.Context) error {
	_, err := w.call(ctx, workerRequest{Op: "clear_cache"})
	return err
}

// GPU implements Model.
func (w *processWorker) GPU() bool { return w.gpu }

// Close asks the worker to exit and kills it if it does not.
func (w *processWorker) Close() error {
	w.mu.Lock()
	if !w.closed {
		line, _ := json.Marshal(workerRequest{Op: "shutdown"})
		w.stdin.Write(append(line, '\n'))
		w.stdin.Close()
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(closeTimeout):
		w.mu.Lock()
		w.kill()
		w.mu.Unlock()
		<-w.done
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}
