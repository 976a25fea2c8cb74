package framehash

import (
	"fmt"
	"sync"

	"framehash/pkg/changelog"
	"framehash/pkg/hash"
	"framehash/pkg/wordio"
)

type changelogOp uint8

const (
	opSet changelogOp = iota
	opDel
)

// changelogState tracks the operations applied since the last persist of an
// instance with incremental persistence enabled.
type changelogState struct {
	mtx      sync.Mutex
	base     string
	hasBase  bool // A full persist of this instance exists at base.
	tainted  bool // A change was not logged; the next persist must be full.
	seqStart uint64
	seqEnd   uint64
	pending  []changelog.Record
}

func newChangelogState(base string) *changelogState {
	return &changelogState{base: base}
}

// changelogRecord converts an operation into a record. It reports false for
// values that cannot be replayed.
func changelogRecord(op changelogOp, key Key, v Value) (changelog.Record, bool) {
	rec := changelog.Record{Op: changelog.OpSet, KeyType: uint8(key.typ), Key: key.key}
	if key.typ == KeyHash128 {
		rec.High = key.id.H
	}
	if op == opDel {
		rec.Op = changelog.OpDel
		return rec, true
	}
	rec.ValueType = uint8(v.typ)
	switch v.typ {
	case ValuePointer:
		return rec, false
	case ValueObject64, ValueObject128:
		r, ok := v.obj.(*Record)
		if !ok {
			return rec, false
		}
		payload, err := r.MarshalCBOR()
		if err != nil {
			return rec, false
		}
		rec.Payload = payload
		rec.High = r.id.H
		if v.typ == ValueObject64 {
			rec.Value = r.id.L
		}
	default:
		rec.Value = v.bits
	}
	return rec, true
}

// emit logs a completed single-key operation.
func (fh *Framehash) emit(op changelogOp, key Key, v Value) {
	cl := fh.clog
	if cl == nil {
		return
	}
	rec, ok := changelogRecord(op, key, v)
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if cl.tainted {
		return
	}
	if !ok {
		cl.tainted = true
		cl.pending = nil
		return
	}
	cl.pending = append(cl.pending, rec)
}

// taintChangelog forces the next persist to be a full one.
func (fh *Framehash) taintChangelog() {
	cl := fh.clog
	if cl == nil {
		return
	}
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	cl.tainted = true
	cl.pending = nil
}

// incremental reports whether the next non-forced persist can be a delta.
func (cl *changelogState) incremental() bool {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	return cl.hasBase && !cl.tainted
}

// rebase records a full persist.
func (cl *changelogState) rebase() {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	cl.hasBase = true
	cl.tainted = false
	cl.seqStart, cl.seqEnd = 0, 0
	cl.pending = nil
}

// persistDelta writes the pending records as the next delta and points the
// master header at it. The caller holds the instance or it is readonly.
func (fh *Framehash) persistDelta() (int64, error) {
	cl := fh.clog
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if len(cl.pending) == 0 {
		return 0, nil
	}
	seq := cl.seqEnd + 1
	w, err := changelog.Create(cl.base, seq)
	if err != nil {
		return -1, err
	}
	for _, rec := range cl.pending {
		if err := w.Append(rec); err != nil {
			w.Abort()
			return -1, err
		}
	}
	nobj, opcnt := fh.nobj.Load(), fh.opcnt.Load()
	path, err := w.Commit(nobj, opcnt)
	if err != nil {
		w.Abort()
		return -1, err
	}
	start := cl.seqStart
	if start == 0 {
		start = seq
	}
	if err := wordio.PatchWords(cl.base, hdrSeqStart, start, seq, uint64(nobj), uint64(opcnt)); err != nil {
		return -1, fmt.Errorf("update header of %s: %w", cl.base, err)
	}
	n := int64(len(cl.pending))
	cl.seqStart, cl.seqEnd = start, seq
	cl.pending = nil
	fh.log.Infof("persisted %d operations to %s", n, path)
	return n, nil
}

// applyRecord replays one logged operation.
func (fh *Framehash) applyRecord(rec changelog.Record) error {
	var key Key
	switch KeyType(rec.KeyType) {
	case KeyPlain64:
		key = PlainKey(rec.Key)
	case KeyHash64:
		key = HashKey(rec.Key)
	case KeyHash128:
		key = IDKey(hash.ObjectID{H: rec.High, L: rec.Key})
	default:
		return corrupt("changelog key type %d", rec.KeyType)
	}
	if rec.Op == changelog.OpDel {
		_, err := fh.del(key)
		return err
	}
	v := Value{typ: ValueType(rec.ValueType), bits: rec.Value}
	switch v.typ {
	case ValueObject64, ValueObject128:
		id := key.id
		if v.typ == ValueObject64 {
			id = hash.ObjectID{H: rec.High, L: rec.Value}
		}
		r, err := recordFromCBOR(id, rec.Payload)
		if err != nil {
			return err
		}
		if v.typ == ValueObject64 {
			v = Object64(r)
		} else {
			v = Object128(r)
		}
	case ValueMember, ValueBoolean, ValueUnsigned, ValueInteger, ValueReal:
	default:
		return corrupt("changelog value type %d", rec.ValueType)
	}
	_, err := fh.set(key, v)
	return err
}

// replayChangelog applies the committed deltas named by the master header.
func (fh *Framehash) replayChangelog(base string, h header) error {
	committed, open, err := changelog.List(base)
	if err != nil {
		return err
	}
	for _, path := range open {
		fh.log.Infof("ignoring uncommitted delta %s", path)
	}
	for _, seq := range committed {
		if seq < h.seqStart || seq > h.seqEnd || h.seqStart == 0 {
			fh.log.Infof("ignoring stale delta %s", changelog.DeltaPath(base, seq))
		}
	}
	if h.seqStart == 0 {
		return nil
	}
	for seq := h.seqStart; seq <= h.seqEnd; seq++ {
		if _, err := changelog.Replay(base, seq, fh.applyRecord); err != nil {
			return fmt.Errorf("replay delta %d: %w", seq, err)
		}
	}
	if n := fh.nobj.Load(); n != h.clogNobj {
		return corrupt("%d items after replay, header says %d", n, h.clogNobj)
	}
	fh.opcnt.Store(h.clogOpcnt)
	return nil
}
