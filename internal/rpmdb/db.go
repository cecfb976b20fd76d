// Package rpmdb stores installed package headers, one record file per
// package, with in-memory indexes rebuilt on open.
package rpmdb

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"rpmkit/internal/fileplan"
	"rpmkit/internal/header"
	"rpmkit/internal/logging"
	"rpmkit/internal/rpmerr"
)

// Mode selects how the database is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// AllPackages as an iterator tag walks every record.
const AllPackages header.Tag = 0

const packagesDir = "packages"

// Match locates a key inside a record: the record and the array index the
// key was found at.
type Match struct {
	ID    uint32
	Index int
}

// DB is an open package database.
type DB struct {
	dir  string
	mode Mode
	lock *os.File
	Log  zerolog.Logger

	mu      sync.RWMutex
	headers map[uint32]*header.Header
	nextID  uint32
	index   map[header.Tag]map[string][]Match
}

// indexedTags are the keys rebuilt at open. TagOldFilenames indexes the
// full path of every file whatever form the header stores it in.
var indexedTags = []header.Tag{
	header.TagName,
	header.TagProvideName,
	header.TagRequireName,
	header.TagConflictName,
	header.TagObsoleteName,
	header.TagTriggerName,
	header.TagBaseNames,
	header.TagOldFilenames,
}

// Open opens (creating in ReadWrite mode) the database at path and takes
// a shared or exclusive lock on it.
func Open(path string, mode Mode) (*DB, error) {
	pkgDir := filepath.Join(path, packagesDir)
	if mode == ReadWrite {
		if err := os.MkdirAll(pkgDir, 0o755); err != nil {
			return nil, dbError(err, "cannot create database %s", path)
		}
	} else if _, err := os.Stat(pkgDir); err != nil {
		return nil, dbError(err, "cannot open database %s", path)
	}

	db := &DB{
		dir:     path,
		mode:    mode,
		Log:     logging.GetLogger("rpmdb"),
		headers: make(map[uint32]*header.Header),
		nextID:  1,
	}
	if err := db.acquireLock(); err != nil {
		return nil, err
	}
	if err := db.load(); err != nil {
		db.releaseLock()
		return nil, err
	}
	return db, nil
}

func (db *DB) acquireLock() error {
	lockPath := filepath.Join(db.dir, "lock")
	flag := os.O_RDONLY
	how := unix.LOCK_SH
	if db.mode == ReadWrite {
		flag = os.O_RDWR | os.O_CREATE
		how = unix.LOCK_EX
	}
	f, err := os.OpenFile(lockPath, flag, 0o644)
	if errors.Is(err, os.ErrNotExist) && db.mode == ReadOnly {
		// a database never written to has no lock file yet
		return nil
	}
	if err != nil {
		return dbError(err, "cannot open lock file %s", lockPath)
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		f.Close()
		return dbError(err, "database %s is locked", db.dir)
	}
	db.lock = f
	return nil
}

func (db *DB) releaseLock() {
	if db.lock == nil {
		return
	}
	unix.Flock(int(db.lock.Fd()), unix.LOCK_UN)
	db.lock.Close()
	db.lock = nil
}

func (db *DB) load() error {
	db.index = make(map[header.Tag]map[string][]Match, len(indexedTags))
	for _, t := range indexedTags {
		db.index[t] = make(map[string][]Match)
	}

	pkgDir := filepath.Join(db.dir, packagesDir)
	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return dbError(err, "cannot read %s", pkgDir)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".hdr") || strings.HasPrefix(name, ".") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".hdr"), 10, 32)
		if err != nil {
			db.Log.Warn().Str("file", name).Msg("ignoring stray file in database")
			continue
		}
		id := uint32(n)
		data, err := os.ReadFile(filepath.Join(pkgDir, name))
		if err != nil {
			return dbError(err, "cannot read record %d", id)
		}
		h, err := decodeRecord(data)
		if err != nil {
			return dbError(err, "record %d is corrupt", id)
		}
		db.headers[id] = h
		db.addIndex(id, h)
		if id >= db.nextID {
			db.nextID = id + 1
		}
	}
	return nil
}

func indexKeys(h *header.Header, tag header.Tag) []string {
	switch tag {
	case header.TagName:
		return []string{h.Name()}
	case header.TagBaseNames:
		return h.BaseNames()
	case header.TagOldFilenames:
		return h.FileNames()
	}
	return h.Strings(tag)
}

func (db *DB) addIndex(id uint32, h *header.Header) {
	for _, t := range indexedTags {
		idx := db.index[t]
		for i, k := range indexKeys(h, t) {
			idx[k] = append(idx[k], Match{ID: id, Index: i})
		}
	}
}

func (db *DB) removeIndex(id uint32, h *header.Header) {
	for _, t := range indexedTags {
		idx := db.index[t]
		for _, k := range indexKeys(h, t) {
			ms := slices.DeleteFunc(idx[k], func(m Match) bool { return m.ID == id })
			if len(ms) == 0 {
				delete(idx, k)
			} else {
				idx[k] = ms
			}
		}
	}
}

func (db *DB) writable() error {
	if db.mode != ReadWrite {
		return rpmerr.New(rpmerr.ErrDatabase, "database opened read-only")
	}
	return nil
}

// Close releases the lock.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.releaseLock()
	return nil
}

// Path is the database directory.
func (db *DB) Path() string { return db.dir }

// Add stores a copy of h and returns its record id.
func (db *DB) Add(h *header.Header) (uint32, error) {
	if err := db.writable(); err != nil {
		return 0, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	data, err := encodeRecord(h)
	if err != nil {
		return 0, dbError(err, "cannot encode header for %s", h.NVR())
	}
	if err := writeAtomic(filepath.Join(db.dir, packagesDir), recordName(id), data); err != nil {
		return 0, dbError(err, "cannot write record for %s", h.NVR())
	}
	db.nextID++
	c := h.Copy()
	db.headers[id] = c
	db.addIndex(id, c)
	db.Log.Debug().Uint32("id", id).Str("package", h.NVR()).Msg("record added")
	return id, nil
}

// Remove deletes a record.
func (db *DB) Remove(id uint32) error {
	if err := db.writable(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	h, ok := db.headers[id]
	if !ok {
		return rpmerr.Newf(rpmerr.ErrNotFound, "record %d not found", id)
	}
	pkgDir := filepath.Join(db.dir, packagesDir)
	if err := os.Remove(filepath.Join(pkgDir, recordName(id))); err != nil {
		return dbError(err, "cannot remove record %d", id)
	}
	if err := syncDir(pkgDir); err != nil {
		return dbError(err, "cannot sync %s", pkgDir)
	}
	db.removeIndex(id, h)
	delete(db.headers, id)
	db.Log.Debug().Uint32("id", id).Str("package", h.NVR()).Msg("record removed")
	return nil
}

// Update rewrites a record in place.
func (db *DB) Update(id uint32, h *header.Header) error {
	if err := db.writable(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	old, ok := db.headers[id]
	if !ok {
		return rpmerr.Newf(rpmerr.ErrNotFound, "record %d not found", id)
	}
	data, err := encodeRecord(h)
	if err != nil {
		return dbError(err, "cannot encode header for %s", h.NVR())
	}
	if err := writeAtomic(filepath.Join(db.dir, packagesDir), recordName(id), data); err != nil {
		return dbError(err, "cannot write record %d", id)
	}
	db.removeIndex(id, old)
	c := h.Copy()
	db.headers[id] = c
	db.addIndex(id, c)
	return nil
}

// Get returns a copy of a record.
func (db *DB) Get(id uint32) (*header.Header, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, ok := db.headers[id]
	if !ok {
		return nil, rpmerr.Newf(rpmerr.ErrNotFound, "record %d not found", id)
	}
	return h.Copy(), nil
}

// CountPackages is the number of installed instances of name.
func (db *DB) CountPackages(name string) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.index[header.TagName][name])
}

// Len is the number of records.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.headers)
}

// Lookup returns the matches of key in a tag index, ordered by record.
// Unindexed tags are answered by a scan.
func (db *DB) Lookup(tag header.Tag, key string) []Match {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.lookup(tag, key)
}

func (db *DB) lookup(tag header.Tag, key string) []Match {
	if tag == AllPackages {
		out := make([]Match, 0, len(db.headers))
		for id := range db.headers {
			out = append(out, Match{ID: id})
		}
		slices.SortFunc(out, func(a, b Match) int { return int(a.ID) - int(b.ID) })
		return out
	}
	if idx, ok := db.index[tag]; ok {
		return slices.Clone(idx[key])
	}
	var out []Match
	for id, h := range db.headers {
		v, ok := h.Get(tag)
		if !ok {
			continue
		}
		for i, s := range v.Strs {
			if s == key {
				out = append(out, Match{ID: id, Index: i})
			}
		}
	}
	slices.SortFunc(out, func(a, b Match) int { return int(a.ID) - int(b.ID) })
	return out
}

// FileOwners lists the installed packages that own path. The returned
// headers are shared with the database and must not be modified.
func (db *DB) FileOwners(path string) ([]fileplan.Owner, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []fileplan.Owner
	for _, m := range db.index[header.TagOldFilenames][path] {
		out = append(out, fileplan.Owner{RecordID: m.ID, Header: db.headers[m.ID], FileIndex: m.Index})
	}
	return out, nil
}

var _ fileplan.Installed = (*DB)(nil)
