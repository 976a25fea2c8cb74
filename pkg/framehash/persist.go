package framehash

import (
	"errors"
	"fmt"
	"os"

	"framehash/pkg/changelog"
	"framehash/pkg/hash"
	"framehash/pkg/wordio"
)

// ObjectID returns the id of the instance, so maps can be nested as values.
func (fh *Framehash) ObjectID() hash.ObjectID {
	return fh.id
}

// Destroy releases a nested map when its parent drops it.
func (fh *Framehash) Destroy() {
	if err := fh.Close(); err != nil {
		fh.log.Infof("destroy %s: %v", fh.id, err)
	}
}

func (fh *Framehash) TypeInfo() uint64 {
	return TypeInfoFramehash
}

// beginSerialize marks the instance as being serialized and locks it unless
// it is readonly. The returned function undoes both. A nested instance that
// is already being serialized is part of a cycle.
func (fh *Framehash) beginSerialize(nested bool) (func(), error) {
	if nested && fh.dontenter.Load() {
		return nil, ErrCycle
	}
	fh.serMtx.Lock()
	if !fh.dontenter.CompareAndSwap(false, true) {
		fh.serMtx.Unlock()
		return nil, ErrCycle
	}
	locked := fh.readonly.Load() == 0
	if locked {
		fh.locker.acquireAll()
	}
	return func() {
		if locked {
			fh.locker.releaseAll()
		}
		fh.dontenter.Store(false)
		fh.serMtx.Unlock()
	}, nil
}

// prepareStream flushes dirty cache cells. Readonly instances are always
// clean.
func (fh *Framehash) prepareStream() error {
	if fh.readonly.Load() > 0 || fh.clean.Load() {
		return nil
	}
	return fh.flushLocked(false)
}

// Serialize persists the instance to its masterpath and returns the number of
// words or changelog records written. Unless force is set, nothing is written
// when the file is current, and instances with a changelog write only a
// delta when a full persist exists.
func (fh *Framehash) Serialize(force bool) (int64, error) {
	if fh.masterpath == "" {
		return -1, ErrNoMasterpath
	}
	done, err := fh.beginSerialize(false)
	if err != nil {
		return -1, err
	}
	defer done()
	return fh.persistLocked(force)
}

func (fh *Framehash) persistLocked(force bool) (int64, error) {
	if !force && fh.persisted.Load() {
		return 0, nil
	}
	if fh.clog != nil && !force && fh.clog.incremental() {
		n, err := fh.persistDelta()
		if err == nil {
			fh.persisted.Store(true)
		}
		return n, err
	}
	return fh.persistFull()
}

// persistFull writes the master file through a temporary file.
func (fh *Framehash) persistFull() (int64, error) {
	if err := fh.prepareStream(); err != nil {
		return -1, err
	}
	tmp := fh.masterpath + ".tmp~"
	w, err := wordio.Create(tmp)
	if err != nil {
		return -1, err
	}
	var h header
	if fh.clog != nil {
		h.clogClass = changelogClassJSON
		h.clogNobj, h.clogOpcnt = fh.nobj.Load(), fh.opcnt.Load()
	}
	if err := fh.writeStream(w, modeFileStart, fh.masterpath, h); err != nil {
		w.Abort()
		return -1, err
	}
	n := w.Count()
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return -1, err
	}
	if err := os.Rename(tmp, fh.masterpath); err != nil {
		return -1, err
	}
	if fh.clog != nil {
		if err := changelog.Remove(fh.masterpath); err != nil {
			return n, err
		}
		fh.clog.rebase()
	}
	fh.persisted.Store(true)
	fh.log.Infof("persisted %d items to %s (%d words)", fh.nobj.Load(), fh.masterpath, n)
	return n, nil
}

// SerializeTo writes the instance to w as a standalone stream and returns
// the number of words written.
func (fh *Framehash) SerializeTo(w *wordio.Writer) (int64, error) {
	done, err := fh.beginSerialize(false)
	if err != nil {
		return -1, err
	}
	defer done()
	if err := fh.prepareStream(); err != nil {
		return -1, err
	}
	start := w.Count()
	if err := fh.writeStream(w, modeRootParent, fh.masterpath, header{}); err != nil {
		return -1, err
	}
	return w.Count() - start, nil
}

// MarshalWords writes the instance as a value nested in another map. Maps
// with a masterpath are persisted to their own file and referenced; others
// are embedded.
func (fh *Framehash) MarshalWords(w *wordio.Writer) error {
	done, err := fh.beginSerialize(true)
	if err != nil {
		return err
	}
	defer done()
	if fh.masterpath == "" {
		if err := fh.prepareStream(); err != nil {
			return err
		}
		return fh.writeStream(w, modeEmbeddedChild, "", header{})
	}
	if _, err := fh.persistLocked(false); err != nil {
		return err
	}
	if err := w.WriteWords(fileCap, fileCap, fileCap, fileCap); err != nil {
		return err
	}
	if err := w.WriteWords(TypeInfoFramehash, uint64(modeDetachedChild), uint64(fh.nobj.Load()), uint64(fh.opcnt.Load()), uint64(pathWords(fh.masterpath))); err != nil {
		return err
	}
	if err := w.WriteBytes([]byte(fh.masterpath)); err != nil {
		return err
	}
	return w.WriteWords(fileCap, fileCap, fileCap, fileCap)
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////////// Load ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Load reads the instance persisted at path and replays its committed
// changelog. Geometry and policy come from the file; opts supplies
// allocators, hasher, logger and whether to keep logging changes.
func Load(path string, opts Options) (*Framehash, error) {
	r, err := wordio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	typeinfo, smode, err := readPrehead(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if smode != modeFileStart {
		return nil, fmt.Errorf("%s: mode %04x: %w", path, uint64(smode), ErrCorrupt)
	}
	fh, h, _, err := readStream(r, 0, typeinfo, smode, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// The end record closes the file.
	if r.Remaining() != 0 {
		fh.discardFailed()
		return nil, fmt.Errorf("%s: %w", path, corrupt("bad file size %d words, expected %d", r.Len(), r.Pos()))
	}
	fh.masterpath = path
	if h.clogClass != 0 {
		if err := fh.replayChangelog(path, h); err != nil {
			fh.discardFailed()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if opts.Changelog {
		fh.clog = newChangelogState(path)
		if h.clogClass != 0 {
			fh.clog.hasBase = true
			fh.clog.seqStart, fh.clog.seqEnd = h.seqStart, h.seqEnd
		}
	}
	fh.persisted.Store(true)
	fh.log.Infof("loaded %d items from %s", fh.nobj.Load(), path)
	return fh, nil
}

// Deserialize reads a stream written by SerializeTo or Serialize.
func Deserialize(r *wordio.Reader, opts Options) (*Framehash, error) {
	start := r.Pos()
	typeinfo, smode, err := readPrehead(r)
	if err != nil {
		return nil, err
	}
	if smode != modeRootParent && smode != modeFileStart {
		return nil, fmt.Errorf("mode %04x: %w", uint64(smode), ErrCorrupt)
	}
	fh, _, _, err := readStream(r, start, typeinfo, smode, opts)
	return fh, err
}

// discardFailed releases everything a failed load built.
func (fh *Framehash) discardFailed() {
	p := NewProcessor(DestroyObjects)
	p.Readonly = false
	p.reset(fh.dyn, fh.cacheDepth)
	p.run(&fh.top)
	fh.dyn.discard(&fh.top)
}

// decodeFramehash rebuilds a nested map, either embedded in the stream or
// referenced by path.
func decodeFramehash(r *wordio.Reader, id hash.ObjectID, dyn *Dynamic) (Object, error) {
	start := r.Pos()
	typeinfo, smode, err := readPrehead(r)
	if err != nil {
		return nil, err
	}
	opts := Options{}
	if dyn != nil {
		opts.Allocators = SharedAllocators(dyn)
	}
	switch smode {
	case modeEmbeddedChild:
		fh, _, _, err := readStream(r, start, typeinfo, smode, opts)
		if err != nil {
			return nil, fmt.Errorf("embedded map %s: %w", id, err)
		}
		return fh, nil
	case modeDetachedChild:
		return loadDetached(r, id, opts)
	default:
		return nil, fmt.Errorf("nested map mode %04x: %w", uint64(smode), ErrCorrupt)
	}
}

func loadDetached(r *wordio.Reader, id hash.ObjectID, opts Options) (Object, error) {
	var info [3]uint64
	if err := r.ReadWords(info[:]); err != nil {
		return nil, corrupt("detached map reference: %v", err)
	}
	nobj, opcnt := int64(info[0]), int64(info[1])
	before := r.Pos()
	b, err := r.ReadBytes()
	if err != nil {
		return nil, corrupt("detached map path: %v", err)
	}
	if r.Pos()-before != int64(info[2]) {
		return nil, corrupt("detached map path size %d", r.Pos()-before)
	}
	var tail [4]uint64
	if err := r.ReadWords(tail[:]); err != nil {
		return nil, corrupt("detached map reference: %v", err)
	}
	for _, v := range tail {
		if v != fileCap {
			return nil, corrupt("detached map reference end %016x", v)
		}
	}
	path := string(b)
	fh, err := Load(path, opts)
	if errors.Is(err, os.ErrNotExist) {
		opts.Masterpath = path
		if fh, err = New(opts); err != nil {
			return nil, err
		}
		fh.id = id
		fh.log.Infof("nested map seems to have been lost: %s", path)
		return fh, nil
	}
	if err != nil {
		return nil, err
	}
	if fh.opcnt.Load() != opcnt || fh.nobj.Load() != nobj {
		fh.discardFailed()
		return nil, corrupt("nested map %s is out of sync: opcnt=%d/%d nobj=%d/%d", path, fh.opcnt.Load(), opcnt, fh.nobj.Load(), nobj)
	}
	return fh, nil
}
