// Package correlator matches asynchronous outcomes to the single caller waiting for
// them. Entries are keyed by device identifier; at most one may be pending per key and
// each is resolved exactly once.
//
// Like the registry, a Table is owned by the dispatch loop and is not locked.
package correlator

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
)

// Kind names the operation a pending request belongs to.
type Kind string

const (
	KindConnect   Kind = "connect"
	KindProvision Kind = "provision"
	KindRename    Kind = "rename"
)

// Callback receives the outcome; nil means success.
type Callback func(err error)

// Pending describes an in-flight request.
type Pending struct {
	ID      ulid.ULID
	Key     string
	Kind    Kind
	Created time.Time
}

// Age reports how long the request has been pending.
func (p Pending) Age(now time.Time) time.Duration {
	return now.Sub(p.Created)
}

type entry struct {
	Pending
	cb Callback
}

// Table holds the pending requests.
type Table struct {
	entries map[string]*entry
	logger  *logrus.Logger
	now     func() time.Time
}

func New(logger *logrus.Logger) *Table {
	if logger == nil {
		logger = logrus.New()
	}
	return &Table{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds a pending request for key. It fails with RequestConflict if one is
// already pending; the existing request is left untouched.
func (t *Table) Register(key string, kind Kind, cb Callback) (Pending, error) {
	if existing, ok := t.entries[key]; ok {
		return Pending{}, device.Errorf(device.CodeRequestConflict,
			"%s request %s already pending for %q", existing.Kind, existing.ID, key)
	}

	now := t.now()
	p := Pending{
		ID:      ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Key:     key,
		Kind:    kind,
		Created: now,
	}
	t.entries[key] = &entry{Pending: p, cb: cb}

	t.logger.WithFields(logrus.Fields{
		"device_id":  key,
		"kind":       kind,
		"request_id": p.ID.String(),
	}).Debug("Registered pending request")
	return p, nil
}

// Resolve removes the pending request for key and invokes its callback with err.
// Returns false (and does nothing) when no request is pending, which absorbs duplicate
// and late SDK callbacks.
func (t *Table) Resolve(key string, err error) bool {
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	return t.resolve(e, err)
}

// ResolveID resolves the request for key only if it is the request identified by id.
func (t *Table) ResolveID(key string, id ulid.ULID, err error) bool {
	e, ok := t.entries[key]
	if !ok || e.ID != id {
		return false
	}
	return t.resolve(e, err)
}

func (t *Table) resolve(e *entry, err error) bool {
	// Remove before invoking so a callback may register a follow-up request.
	delete(t.entries, e.Key)

	fields := logrus.Fields{
		"device_id":  e.Key,
		"kind":       e.Kind,
		"request_id": e.ID.String(),
		"elapsed":    e.Age(t.now()),
	}
	if err != nil {
		fields["error"] = err
	}
	t.logger.WithFields(fields).Debug("Resolved pending request")

	if e.cb != nil {
		e.cb(err)
	}
	return true
}

// Lookup returns the pending request for key.
func (t *Table) Lookup(key string) (Pending, bool) {
	e, ok := t.entries[key]
	if !ok {
		return Pending{}, false
	}
	return e.Pending, true
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	return len(t.entries)
}
