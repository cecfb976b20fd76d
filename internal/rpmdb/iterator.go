package rpmdb

import (
	"rpmkit/internal/header"
)

// Iterator walks the records matching one key. Headers handed out are
// copies; a caller that changes one calls SetModified and the next Next
// (or Close) writes it back.
type Iterator struct {
	db      *DB
	matches []Match
	pos     int

	version string
	release string

	cur      *header.Header
	curID    uint32
	curIndex int
	modified bool
	err      error
}

// InitIterator walks records whose tag holds key. With AllPackages the key
// is ignored and every record is visited in id order.
func (db *DB) InitIterator(tag header.Tag, key string) *Iterator {
	return &Iterator{db: db, matches: db.Lookup(tag, key), curIndex: -1}
}

// SetVersion and SetRelease restrict the walk to exact matches.
func (it *Iterator) SetVersion(v string) { it.version = v }
func (it *Iterator) SetRelease(r string) { it.release = r }

// SetModified marks the current header for write-back.
func (it *Iterator) SetModified(m bool) { it.modified = m }

// Count is the number of candidates before version/release filtering.
func (it *Iterator) Count() int { return len(it.matches) }

// Offset is the record id of the current header.
func (it *Iterator) Offset() uint32 { return it.curID }

// Index is the array position the key matched at in the current header.
func (it *Iterator) Index() int { return it.curIndex }

// Err returns the first write-back failure.
func (it *Iterator) Err() error { return it.err }

func (it *Iterator) flush() {
	if it.cur == nil || !it.modified || it.err != nil {
		return
	}
	if err := it.db.Update(it.curID, it.cur); err != nil {
		it.err = err
	}
	it.modified = false
}

// Next returns the next matching header, or nil at the end.
func (it *Iterator) Next() *header.Header {
	it.flush()
	it.cur = nil
	for it.err == nil && it.pos < len(it.matches) {
		m := it.matches[it.pos]
		it.pos++
		h, err := it.db.Get(m.ID)
		if err != nil {
			// removed since the walk began
			continue
		}
		if it.version != "" && h.Version() != it.version {
			continue
		}
		if it.release != "" && h.Release() != it.release {
			continue
		}
		it.cur, it.curID, it.curIndex = h, m.ID, m.Index
		return h
	}
	return nil
}

// Close writes back a pending modification.
func (it *Iterator) Close() error {
	it.flush()
	it.cur = nil
	it.matches = nil
	return it.err
}
