package logsink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/botvisor/internal/metrics"
)

// Tag classifies a log record.
type Tag string

const (
	TagStdout Tag = "STDOUT"
	TagStderr Tag = "STDERR"
	TagExit   Tag = "EXIT"
)

// DefaultTailBytes is the byte budget used when Tail is asked for <= 0 bytes.
const DefaultTailBytes = 20000

// TimeFormat is ISO-8601 in UTC with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Sink stores one append-only log file per bot, <dir>/<name>.log.
// Records of one bot are written under a per-bot mutex shared by every
// stream of that bot, so a record is never split by a concurrent writer.
// Write failures are reported to the diagnostic logger and never returned.
type Sink struct {
	dir       string
	tailBytes int
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Sink.
type Option func(*Sink)

// WithTailBytes overrides DefaultTailBytes.
func WithTailBytes(n int) Option {
	return func(s *Sink) {
		if n > 0 {
			s.tailBytes = n
		}
	}
}

// WithLogger sets the diagnostic logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates the log directory if needed.
func New(dir string, opts ...Option) (*Sink, error) {
	if dir == "" {
		return nil, errors.New("log directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &Sink{
		dir:       dir,
		tailBytes: DefaultTailBytes,
		log:       slog.Default(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the directory holding the log files.
func (s *Sink) Dir() string { return s.dir }

// Path returns the log file of a bot.
func (s *Sink) Path(name string) string {
	return filepath.Join(s.dir, name+".log")
}

func (s *Sink) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Format renders one record: "[TAG 2006-01-02T15:04:05.000Z] payload\n".
// A trailing newline in payload is not doubled.
func Format(tag Tag, ts time.Time, payload []byte) []byte {
	head := "[" + string(tag) + " " + ts.UTC().Format(TimeFormat) + "] "
	b := make([]byte, 0, len(head)+len(payload)+1)
	b = append(b, head...)
	b = append(b, payload...)
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		b = append(b, '\n')
	}
	return b
}

// Open returns a stream appending to name's log. The file is opened
// (create-or-append) lazily on the first record; Open itself cannot fail.
func (s *Sink) Open(name string) *Stream {
	return &Stream{sink: s, name: name, lock: s.lockFor(name)}
}

// Append writes a single record to name's log, opening and closing the file.
func (s *Sink) Append(name string, tag Tag, ts time.Time, payload []byte) {
	st := s.Open(name)
	st.Append(tag, ts, payload)
	st.Close()
}

// Tail returns the last maxBytes of name's log, or all of it if shorter.
// A bot that never wrote a log yields an empty result and no error.
func (s *Sink) Tail(name string, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = s.tailBytes
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	off := size - int64(maxBytes)
	if off < 0 {
		off = 0
	}
	return io.ReadAll(io.NewSectionReader(f, off, size-off))
}

func (s *Sink) reportWriteError(name string, tag Tag, err error) {
	metrics.IncLogWriteError(name)
	s.log.Error("bot log write failed", "bot", name, "tag", string(tag), "error", err)
}

// Stream appends records for one run of a bot. It is safe for concurrent
// use by the stdout reader, the stderr reader and the exit observer.
type Stream struct {
	sink   *Sink
	name   string
	lock   *sync.Mutex
	f      *os.File
	closed bool
}

// Name returns the bot the stream writes for.
func (st *Stream) Name() string { return st.name }

// Append formats and writes one record. Errors go to the diagnostic log.
func (st *Stream) Append(tag Tag, ts time.Time, payload []byte) {
	rec := Format(tag, ts, payload)
	st.lock.Lock()
	defer st.lock.Unlock()
	if st.closed {
		st.sink.reportWriteError(st.name, tag, os.ErrClosed)
		return
	}
	if st.f == nil {
		f, err := os.OpenFile(st.sink.Path(st.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			st.sink.reportWriteError(st.name, tag, err)
			return
		}
		st.f = f
	}
	if _, err := st.f.Write(rec); err != nil {
		st.sink.reportWriteError(st.name, tag, err)
	}
}

// Close releases the file. Later appends are dropped and reported.
func (st *Stream) Close() {
	st.lock.Lock()
	defer st.lock.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	if st.f != nil {
		if err := st.f.Close(); err != nil {
			st.sink.log.Warn("closing bot log", "bot", st.name, "error", err)
		}
		st.f = nil
	}
}
