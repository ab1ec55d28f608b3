package table

import (
	"errors"
	"sort"
	"sync"

	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
)

var (
	// ErrAlreadyRunning is returned when a bot already has an entry.
	ErrAlreadyRunning = errors.New("bot already running")
	// ErrClosed is returned once the table has been shut down.
	ErrClosed = errors.New("process table closed")
)

// Entry is a snapshot of one running bot.
type Entry struct {
	Name   string
	Handle *process.Handle
}

// Table is the authoritative record of which bots are running.
//
// The map is owned by a single goroutine; every operation, including exit
// notifications from observers, is a message answered on a reply channel,
// so check-and-insert is atomic without any caller holding a lock. The owner
// loop performs no I/O.
//
// A slot goes through two steps: Reserve claims the name before the process
// is spawned (so concurrent starts cannot both spawn) and Register attaches
// the handle. A reserved slot does not count as running.
type Table struct {
	reqs      chan request
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type opType int

const (
	opIsRunning opType = iota
	opReserve
	opRegister
	opRelease
	opUnregister
	opExited
	opList
)

type request struct {
	op     opType
	name   string
	handle *process.Handle
	reply  chan response
}

type response struct {
	ok      bool
	err     error
	handle  *process.Handle
	entries []Entry
}

type slot struct {
	handle *process.Handle // nil while only reserved
}

// New creates a table and starts its owner goroutine.
func New() *Table {
	t := &Table{
		reqs: make(chan request, 16),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

// Close stops the owner goroutine. Pending and later calls fail with
// ErrClosed (or report "not running").
func (t *Table) Close() {
	t.closeOnce.Do(func() { close(t.stop) })
	<-t.done
}

func (t *Table) run() {
	defer close(t.done)
	slots := make(map[string]*slot)
	for {
		select {
		case <-t.stop:
			return
		case req := <-t.reqs:
			req.reply <- apply(slots, req)
		}
	}
}

func apply(slots map[string]*slot, req request) response {
	s := slots[req.name]
	switch req.op {
	case opIsRunning:
		return response{ok: s != nil && s.handle != nil}
	case opReserve:
		if s != nil {
			return response{err: ErrAlreadyRunning}
		}
		slots[req.name] = &slot{}
		return response{ok: true}
	case opRegister:
		if s == nil {
			s = &slot{}
			slots[req.name] = s
		} else if s.handle != nil {
			return response{err: ErrAlreadyRunning}
		}
		s.handle = req.handle
		publishRunning(slots)
		return response{ok: true}
	case opRelease:
		if s != nil && s.handle == nil {
			delete(slots, req.name)
			return response{ok: true}
		}
		return response{}
	case opUnregister:
		if s == nil || s.handle == nil {
			return response{}
		}
		delete(slots, req.name)
		publishRunning(slots)
		return response{ok: true, handle: s.handle}
	case opExited:
		// Only the run that exited may clear the slot: after a stop the
		// name may already belong to a newer run.
		if s == nil || s.handle != req.handle {
			return response{}
		}
		delete(slots, req.name)
		publishRunning(slots)
		return response{ok: true}
	case opList:
		entries := make([]Entry, 0, len(slots))
		for name, s := range slots {
			if s.handle != nil {
				entries = append(entries, Entry{Name: name, Handle: s.handle})
			}
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		return response{ok: true, entries: entries}
	}
	return response{}
}

func publishRunning(slots map[string]*slot) {
	n := 0
	for _, s := range slots {
		if s.handle != nil {
			n++
		}
	}
	metrics.SetRunningBots(n)
}

func (t *Table) call(op opType, name string, h *process.Handle) response {
	req := request{op: op, name: name, handle: h, reply: make(chan response, 1)}
	select {
	case t.reqs <- req:
	case <-t.done:
		return response{err: ErrClosed}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-t.done:
		return response{err: ErrClosed}
	}
}

// IsRunning reports whether a handle is registered for name.
func (t *Table) IsRunning(name string) bool {
	return t.call(opIsRunning, name, nil).ok
}

// Reserve claims the slot for name. It fails with ErrAlreadyRunning when the
// bot is running or another start holds the reservation.
func (t *Table) Reserve(name string) error {
	return t.call(opReserve, name, nil).err
}

// Register inserts h for name iff no process is registered for it. A
// reservation held for name is filled in.
func (t *Table) Register(name string, h *process.Handle) error {
	return t.call(opRegister, name, h).err
}

// Release drops a reservation that never got a handle (spawn failed).
func (t *Table) Release(name string) {
	t.call(opRelease, name, nil)
}

// Unregister removes and returns the running entry for name, if any.
func (t *Table) Unregister(name string) (*process.Handle, bool) {
	resp := t.call(opUnregister, name, nil)
	return resp.handle, resp.ok
}

// Exited notifies the table that h has terminated. The entry is removed only
// if it still refers to h. It reports whether an entry was removed.
func (t *Table) Exited(name string, h *process.Handle) bool {
	return t.call(opExited, name, h).ok
}

// List returns the running entries sorted by name.
func (t *Table) List() []Entry {
	return t.call(opList, "", nil).entries
}

// Len returns the number of running bots.
func (t *Table) Len() int {
	return len(t.List())
}
