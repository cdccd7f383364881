// Package events fans out engine lifecycle and progress notifications to
// zero or more observers. It never influences correctness: observers are
// write-only sinks and their errors, if any, are swallowed rather than
// propagated back into the engine.
package events

import (
	"fmt"

	"github.com/zsync-go/zsync/pkg/logging"
)

// Kind identifies the category of an Event.
type Kind int

// Event kinds, in roughly the order an orchestrator run produces them.
const (
	KindStarted Kind = iota
	KindControlFileParsed
	KindSeedScanned
	KindSeedFailed
	KindBlockMatched
	KindRangeFetchStarted
	KindRangeReceived
	KindCompleted
	KindFailed
)

// Event is a single notification dispatched to observers.
type Event struct {
	Kind Kind

	// RunID identifies the orchestrator run this event belongs to, so that
	// an observer aggregating events from multiple concurrent invocations
	// (e.g. a log collector) can tell them apart.
	RunID string
	// Path identifies the seed, control file, or output path relevant to
	// the event, when applicable.
	Path string
	// Block is the target block index, for KindBlockMatched.
	Block int
	// Offset and Length describe a byte range, for KindRangeReceived.
	Offset, Length int64
	// Bytes is a byte count, for KindSeedScanned.
	Bytes int64
	// Err carries the failure for KindSeedFailed and KindFailed.
	Err error
}

// Observer receives dispatched events. Implementations must not block
// meaningfully and must not be able to influence engine state. A panic
// raised by Notify is recovered (and logged, when the Dispatcher has a
// logger), never propagated.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(e Event) { f(e) }

// Dispatcher holds a list of observers and fans out events to each in
// registration order.
type Dispatcher struct {
	observers []Observer
	logger    *logging.Logger
	runID     string
}

// NewDispatcher constructs an empty Dispatcher. logger may be nil, in which
// case observer panics are silently discarded.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// SetRunID stamps every subsequently dispatched event with id, identifying
// which orchestrator run they belong to.
func (d *Dispatcher) SetRunID(id string) {
	if d != nil {
		d.runID = id
	}
}

// Register adds an observer. It is not safe to call concurrently with
// dispatch, but the engine itself is single-threaded so this is not a
// practical concern.
func (d *Dispatcher) Register(o Observer) {
	if d == nil || o == nil {
		return
	}
	d.observers = append(d.observers, o)
}

func (d *Dispatcher) emit(e Event) {
	if d == nil {
		return
	}
	e.RunID = d.runID
	for _, o := range d.observers {
		d.notifyOne(o, e)
	}
}

// notifyOne isolates a single observer's panic from the rest of the fan-out
// and from the engine itself.
func (d *Dispatcher) notifyOne(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Warn(fmt.Errorf("observer panic: %v", r))
		}
	}()
	o.Notify(e)
}

// Started reports that a zsync run has begun.
func (d *Dispatcher) Started() { d.emit(Event{Kind: KindStarted}) }

// ControlFileParsed reports that the control file was read successfully.
func (d *Dispatcher) ControlFileParsed(path string) {
	d.emit(Event{Kind: KindControlFileParsed, Path: path})
}

// SeedScanned reports that the scan of a seed finished without error (the
// scan stops early once every block is written), along with the seed
// file's size in bytes.
func (d *Dispatcher) SeedScanned(path string, bytes int64) {
	d.emit(Event{Kind: KindSeedScanned, Path: path, Bytes: bytes})
}

// SeedFailed reports that a seed was abandoned due to a read error. This is
// a recovered (category 4) condition, not a run failure.
func (d *Dispatcher) SeedFailed(path string, err error) {
	d.emit(Event{Kind: KindSeedFailed, Path: path, Err: err})
}

// BlockMatched reports that block k was recovered from a seed.
func (d *Dispatcher) BlockMatched(k int) {
	d.emit(Event{Kind: KindBlockMatched, Block: k})
}

// RangeFetchStarted reports that the range fetcher is about to issue its
// single HTTP request.
func (d *Dispatcher) RangeFetchStarted() { d.emit(Event{Kind: KindRangeFetchStarted}) }

// RangeReceived reports that a byte range arrived over HTTP and was routed
// to the output writer.
func (d *Dispatcher) RangeReceived(offset, length int64) {
	d.emit(Event{Kind: KindRangeReceived, Offset: offset, Length: length})
}

// Completed reports that the run finished successfully.
func (d *Dispatcher) Completed() { d.emit(Event{Kind: KindCompleted}) }

// Failed reports that the run terminated with a fatal error.
func (d *Dispatcher) Failed(err error) { d.emit(Event{Kind: KindFailed, Err: err}) }
