// Package transaction checks, orders and runs a set of package installs
// and erasures against the package database.
package transaction

import (
	"io"

	"github.com/rs/zerolog"

	"rpmkit/internal/archive"
	"rpmkit/internal/chroot"
	"rpmkit/internal/fileplan"
	"rpmkit/internal/header"
	"rpmkit/internal/idcache"
	"rpmkit/internal/logging"
	"rpmkit/internal/rpmdb"
	"rpmkit/internal/rpmerr"
	"rpmkit/internal/script"
)

// State is where a transaction is in its life.
type State int

const (
	StateCreated State = iota
	StateChecked
	StateOrdered
	StateRunning
	StateCommitted
	StateFailed
)

func (s State) String() string {
	return [...]string{"created", "checked", "ordered", "running", "committed", "failed"}[s]
}

// Flags change what Run does.
type Flags uint32

const (
	// FlagTest stops every install after its file list is built.
	FlagTest Flags = 1 << iota
	// FlagJustDB updates the database without touching files.
	FlagJustDB
	FlagNoScripts
	FlagNoTriggers
	// FlagNoDocs leaves %doc files out.
	FlagNoDocs
	// FlagMultilib merges a package into an installed one of the same
	// name, version and release instead of replacing it.
	FlagMultilib
)

// Payload opens the raw archive stream of a package.
type Payload func() (io.ReadCloser, error)

// ElementKind says whether an element adds or removes a package.
type ElementKind int

const (
	ElementInstall ElementKind = iota
	ElementErase
)

// Element is one install or erase intent.
type Element struct {
	Kind   ElementKind
	Header *header.Header
	// Payload is required for installs unless the transaction is JustDB.
	Payload Payload
	// Prefix relocates a relocatable package.
	Prefix string
	// Upgrade erases older instances and obsoleted packages once the new
	// one is committed.
	Upgrade bool
	// RecordID is the database record an erase removes.
	RecordID uint32

	// filled by Check
	files     []fileplan.FileRecord
	shared    []fileplan.SharedFile
	replacing map[uint32]bool
}

// NVR names the element's package.
func (e *Element) NVR() string { return e.Header.NVR() }

// Transaction drives Check, Order and Run.
type Transaction struct {
	DB       *rpmdb.DB
	Rooter   chroot.Rooter
	Codec    archive.Codec
	Resolver fileplan.Resolver
	Scripts  *script.Runner
	IDs      *idcache.Cache
	Flags    Flags
	Filter   Filter
	// Arches lists the architectures this host accepts. Empty disables
	// the check.
	Arches []string
	// NetShared lists path prefixes on shared mounts left alone.
	NetShared []string
	Notify    func(Event)
	Log       zerolog.Logger

	state    State
	elements []*Element
	order    []*Element
	problems Problems
}

// New creates a transaction over db rooted at r.
func New(db *rpmdb.DB, r chroot.Rooter) *Transaction {
	log := logging.GetLogger("transaction")
	return &Transaction{
		DB:       db,
		Rooter:   r,
		Codec:    archive.TarCodec{},
		Resolver: fileplan.NewResolver(db, func(p string) string { return chroot.HostPath(r, p) }),
		Scripts:  script.NewRunner(r),
		IDs:      idcache.New(r.Root(), log),
		Log:      log,
	}
}

// State reports the current state.
func (t *Transaction) State() State { return t.state }

// Elements lists what was added, in insertion order.
func (t *Transaction) Elements() []*Element { return t.elements }

// Ordered returns the run order once Order has succeeded.
func (t *Transaction) Ordered() []*Element { return t.order }

func (t *Transaction) addElement(e *Element) error {
	if t.state != StateCreated {
		return rpmerr.Newf(rpmerr.ErrInvalidState, "cannot add packages to a %s transaction", t.state)
	}
	t.elements = append(t.elements, e)
	return nil
}

// AddInstall queues h for installation.
func (t *Transaction) AddInstall(h *header.Header, payload Payload, prefix string, upgrade bool) (*Element, error) {
	e := &Element{Kind: ElementInstall, Header: h, Payload: payload, Prefix: prefix, Upgrade: upgrade}
	return e, t.addElement(e)
}

// AddErase queues the installed record id for removal.
func (t *Transaction) AddErase(id uint32) (*Element, error) {
	h, err := t.DB.Get(id)
	if err != nil {
		return nil, err
	}
	e := &Element{Kind: ElementErase, Header: h, RecordID: id}
	return e, t.addElement(e)
}

// EventKind is the phase a notification reports.
type EventKind int

const (
	EventInstallStart EventKind = iota
	EventInstallProgress
	EventInstallStop
	EventEraseStart
	EventEraseStop
)

// Event is passed to the Notify callback.
type Event struct {
	Kind    EventKind
	Package string
	Amount  int64
	Total   int64
}

func (t *Transaction) notify(ev Event) {
	if t.Notify != nil {
		t.Notify(ev)
	}
}

func (t *Transaction) hostPath(p string) string { return chroot.HostPath(t.Rooter, p) }
