package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/botvisor/internal/bot"
	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/logsink"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/registry"
	"github.com/loykin/botvisor/internal/table"
)

// DefaultDrainTimeout bounds how long the exit observer waits for the output
// readers after the process has been reaped.
const DefaultDrainTimeout = 2 * time.Second

const readBufferSize = 64 << 10

// Options wires a Supervisor to its collaborators.
type Options struct {
	Registry *registry.Registry // required
	Sink     *logsink.Sink      // required
	Env      *env.Env           // nil: bots inherit the daemon's environment
	Logger   *slog.Logger       // nil: slog.Default()
	History  *history.Recorder  // nil: run events are not exported

	// DrainTimeout is how long output may keep flowing after the bot has
	// exited, e.g. from a background child still holding the pipes.
	DrainTimeout time.Duration
}

// Status is a definition joined with its live run state.
type Status struct {
	bot.Definition
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Supervisor starts, stops and tracks bot processes.
//
// Commands never block on a running bot: each run has two forwarding
// goroutines copying stdout and stderr into the bot log and one exit
// observer that writes the EXIT record and clears the table entry.
type Supervisor struct {
	reg   *registry.Registry
	sink  *logsink.Sink
	env   *env.Env
	log   *slog.Logger
	hist  *history.Recorder
	drain time.Duration

	table     *table.Table
	observers sync.WaitGroup
	closing   atomic.Bool
	// starting is held shared by Start from the closing check until the
	// exit observer is accounted for; Shutdown takes it exclusively to set
	// closing.
	starting sync.RWMutex
}

// New creates a Supervisor. No bot is started.
func New(opts Options) (*Supervisor, error) {
	if opts.Registry == nil {
		return nil, errors.New("supervisor: registry is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("supervisor: log sink is required")
	}
	s := &Supervisor{
		reg:   opts.Registry,
		sink:  opts.Sink,
		env:   opts.Env,
		log:   opts.Logger,
		hist:  opts.History,
		drain: opts.DrainTimeout,
		table: table.New(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.drain <= 0 {
		s.drain = DefaultDrainTimeout
	}
	return s, nil
}

// Add validates and registers a new definition.
func (s *Supervisor) Add(ctx context.Context, d bot.Definition) (bot.Definition, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return bot.Definition{}, &ConfigError{Name: d.Name, Err: err}
	}
	added, err := s.reg.Add(ctx, d)
	if err != nil {
		return bot.Definition{}, err
	}
	s.log.Info("bot added", "bot", added.Name, "type", added.Category, "path", added.Path)
	return added, nil
}

// Get returns the status of one bot.
func (s *Supervisor) Get(name string) (Status, error) {
	d, ok := s.reg.Get(name)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	st := Status{Definition: d}
	for _, e := range s.table.List() {
		if e.Name == name {
			st = withRun(st, e.Handle)
		}
	}
	return st, nil
}

// List returns every registered bot with its run state, sorted by name.
func (s *Supervisor) List() []Status {
	running := make(map[string]*process.Handle)
	for _, e := range s.table.List() {
		running[e.Name] = e.Handle
	}
	defs := s.reg.List()
	out := make([]Status, 0, len(defs))
	for _, d := range defs {
		st := Status{Definition: d}
		if h, ok := running[d.Name]; ok {
			st = withRun(st, h)
		}
		out = append(out, st)
	}
	return out
}

func withRun(st Status, h *process.Handle) Status {
	started := h.StartedAt
	st.Running = true
	st.PID = h.PID
	st.RunID = h.RunID
	st.StartedAt = &started
	return st
}

// RunningPIDs maps every running bot to the PID of its shell.
func (s *Supervisor) RunningPIDs() map[string]int32 {
	entries := s.table.List()
	out := make(map[string]int32, len(entries))
	for _, e := range entries {
		out[e.Name] = int32(e.Handle.PID)
	}
	return out
}

// IsRunning reports whether name has a live process.
func (s *Supervisor) IsRunning(name string) bool {
	return s.table.IsRunning(name)
}

// Start launches the bot's start command. Of concurrent starts for the same
// name exactly one spawns a process; the others get ErrAlreadyRunning.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.starting.RLock()
	defer s.starting.RUnlock()
	if s.closing.Load() {
		return ErrShuttingDown
	}
	d, ok := s.reg.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	if err := s.table.Reserve(name); err != nil {
		if errors.Is(err, table.ErrClosed) {
			return ErrShuttingDown
		}
		return fmt.Errorf("%w: %s", err, name)
	}
	if err := ctx.Err(); err != nil {
		s.table.Release(name)
		return err
	}

	spec := process.Spec{Name: name, Command: d.StartCommand, WorkDir: d.Path}
	if s.env != nil {
		spec.Env = s.env.Merge(nil)
	}
	h, err := process.Spawn(spec)
	if err != nil {
		s.table.Release(name)
		metrics.IncSpawnFailure(name)
		s.log.Error("bot spawn failed", "bot", name, "path", d.Path, "error", err)
		return &SpawnError{Name: name, Err: err}
	}

	// Register before the observer exists so that an immediate exit always
	// finds its own entry to clear.
	regErr := s.table.Register(name, h)

	stream := s.sink.Open(name)
	var readers sync.WaitGroup
	readers.Add(2)
	go s.forward(&readers, stream, logsink.TagStdout, h.Stdout())
	go s.forward(&readers, stream, logsink.TagStderr, h.Stderr())
	s.observers.Add(1)
	go s.observe(d, h, stream, &readers)

	if regErr != nil {
		// Only a closed table gets here; the observer still reaps the process.
		_ = h.Terminate()
		return ErrShuttingDown
	}
	// Remove deletes the definition before it clears the table, so a bot
	// removed while this run was being spawned is either seen here or its
	// entry was already taken by Remove.
	if _, ok := s.reg.Get(name); !ok {
		if s.table.Exited(name, h) {
			_ = h.Terminate()
		}
		return fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	metrics.IncStart(name)
	s.hist.Record(runEvent(history.EventStart, d, h))
	s.log.Info("bot started", "bot", name, "pid", h.PID, "run_id", h.RunID)
	return nil
}

// forward copies one output stream into the bot log, one record per line.
// Lines longer than the read buffer are split into several records.
func (s *Supervisor) forward(wg *sync.WaitGroup, stream *logsink.Stream, tag logsink.Tag, r io.Reader) {
	defer wg.Done()
	br := bufio.NewReaderSize(r, readBufferSize)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			stream.Append(tag, time.Now(), chunk)
		}
		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
			s.log.Warn("bot output read failed", "bot", stream.Name(), "stream", string(tag), "error", err)
		}
		return
	}
}

// observe reaps the process, lets the readers drain and writes the single
// EXIT record of the run before clearing the table entry.
func (s *Supervisor) observe(d bot.Definition, h *process.Handle, stream *logsink.Stream, readers *sync.WaitGroup) {
	defer s.observers.Done()
	name := d.Name
	st := h.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.drain):
		s.log.Warn("bot output still open after exit, closing", "bot", name, "pid", h.PID)
		h.CloseOutput()
		<-drained
	}
	h.CloseOutput()

	stream.Append(logsink.TagExit, time.Now(), []byte(st.String()))
	stream.Close()

	s.table.Exited(name, h)
	ran := time.Since(h.StartedAt)
	metrics.ObserveExit(name, st.Outcome(), ran.Seconds())
	e := runEvent(history.EventExit, d, h)
	if !st.Signaled() && st.Err == nil {
		code := st.Code
		e.ExitCode = &code
	}
	e.Signal = st.Signal
	e.Outcome = st.Outcome()
	e.DurationMS = ran.Milliseconds()
	s.hist.Record(e)
	s.log.Info("bot exited", "bot", name, "pid", h.PID, "run_id", h.RunID, "status", st.String())
}

func runEvent(t history.EventType, d bot.Definition, h *process.Handle) history.Event {
	return history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Bot:        d.Name,
		Category:   d.Category,
		RunID:      h.RunID,
		PID:        h.PID,
		StartedAt:  h.StartedAt.UTC(),
	}
}

// Stop removes the running entry and sends one termination signal to the
// bot's process group. It does not wait for the exit: the observer records
// it. A start issued right after Stop returns may therefore overlap with
// the old process while it is still shutting down.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	h, ok := s.table.Unregister(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	if err := h.Terminate(); err != nil {
		s.log.Error("bot stop failed", "bot", name, "pid", h.PID, "error", err)
		return &SignalError{Name: name, PID: h.PID, Err: err}
	}
	metrics.IncStop(name)
	s.log.Info("bot stopped", "bot", name, "pid", h.PID)
	return nil
}

// Remove deletes the bot's definition and force-stops it if it is running.
// A failed stop is logged, not returned. The bot's log file is kept.
func (s *Supervisor) Remove(ctx context.Context, name string) error {
	if _, err := s.reg.Remove(ctx, name); err != nil {
		return err
	}
	if h, ok := s.table.Unregister(name); ok {
		if err := h.Terminate(); err != nil {
			s.log.Warn("stopping removed bot failed", "bot", name, "pid", h.PID, "error", err)
		} else {
			metrics.IncStop(name)
		}
	}
	s.log.Info("bot removed", "bot", name)
	return nil
}

// Logs returns the last n bytes of the bot's log (n <= 0: the configured
// default). Logs outlive their definition, so the name need not be
// registered; it must still be a safe file name.
func (s *Supervisor) Logs(name string, n int) ([]byte, error) {
	if !bot.IsSafeName(name) {
		return nil, &ConfigError{Name: name, Err: bot.ErrUnsafeName}
	}
	return s.sink.Tail(name, n)
}

// Shutdown stops every running bot and waits until their EXIT records are
// written or ctx is done. Later starts fail with ErrShuttingDown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.starting.Lock()
	s.closing.Store(true)
	s.starting.Unlock()
	for _, e := range s.table.List() {
		err := s.Stop(ctx, e.Name)
		switch {
		case err == nil, errors.Is(err, ErrNotRunning):
		case errors.Is(err, process.ErrProcessGone):
			s.log.Debug("shutdown: bot already gone", "bot", e.Name)
		default:
			s.log.Warn("shutdown: stop failed", "bot", e.Name, "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		s.observers.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for bots to exit: %w", ctx.Err())
	}
	s.table.Close()
	return err
}
