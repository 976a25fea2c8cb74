package framehash

import (
	"fmt"
	"sync"
	"time"

	"framehash/pkg/config"
	"framehash/pkg/hash"
	"framehash/pkg/wordio"
)

// Stream sentinels.
const (
	fileCap        uint64 = 0xFFFFFFFFFFFFFFFF
	startDelim     uint64 = 0x5555555555555555
	endDelim       uint64 = 0xEEEEEEEEEEEEEEEE
	frameDelimA    uint64 = 0xAAAAAAAAAAAAAAAA
	frameDelimB    uint64 = 0xFFFFFFFFFFFFFFFF
	markerCache    uint64 = 0xAAFF00000000FFAA
	markerLeaf     uint64 = 0xAAFF11111111FFAA
	markerInternal uint64 = 0xAAFF22222222FFAA
	markerBasement uint64 = 0xAAFF33333333FFAA
	checkpoint     uint64 = 0xCCCCCCCCCCCCCCCC
	beginObjectA   uint64 = 0x0B0B0B0B0B0B0B0B
	beginObjectB   uint64 = 0x0D0D0D0D0D0D0D0D
	endObjectA     uint64 = 0xBBBBBBBBBBBBBBBB
	endObjectB     uint64 = 0xDDDDDDDDDDDDDDDD
)

// TypeInfoFramehash tags serialized maps, including nested ones.
const TypeInfoFramehash uint64 = 0x4652_4d48_0000_0001

// streamMode says how a serialized map relates to its container.
type streamMode uint64

const (
	modeNoOutput      streamMode = 0
	modeFileStart     streamMode = 0x1111 // Map written to its own file.
	modeRootParent    streamMode = 0x2222 // Map written to a caller supplied stream.
	modeDetachedChild streamMode = 0x3333 // Reference to a nested map stored in its own file.
	modeEmbeddedChild streamMode = 0x4444 // Nested map written inline.
)

const (
	preheadWords = 6
	headerWords  = 32
	summaryWords = 16
	cellWords    = 3

	// Header word offsets patched by incremental persists.
	hdrSeqStart = 28

	changelogClassJSON uint64 = 1
)

// Serializable objects can be stored in a serialized map. TypeInfo selects
// the ObjectDecoder that rebuilds them on load.
type Serializable interface {
	TypeInfo() uint64
	MarshalWords(w *wordio.Writer) error
}

// ObjectDecoder rebuilds an object with the given id from the words written
// by its MarshalWords. dyn holds the allocators of the map being loaded.
type ObjectDecoder func(r *wordio.Reader, id hash.ObjectID, dyn *Dynamic) (Object, error)

var (
	decoderMtx sync.RWMutex
	decoders   = map[uint64]ObjectDecoder{}
)

// RegisterObjectDecoder installs dec for objects whose TypeInfo is typeinfo.
func RegisterObjectDecoder(typeinfo uint64, dec ObjectDecoder) {
	decoderMtx.Lock()
	defer decoderMtx.Unlock()
	decoders[typeinfo] = dec
}

func lookupDecoder(typeinfo uint64) ObjectDecoder {
	decoderMtx.RLock()
	defer decoderMtx.RUnlock()
	return decoders[typeinfo]
}

func init() {
	RegisterObjectDecoder(TypeInfoFramehash, decodeFramehash)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorrupt)
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Header ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type header struct {
	typeinfo     uint64
	smode        streamMode
	obid         hash.ObjectID
	version      uint64
	t0, t1       int64
	incomplete   uint64
	nobj         int64
	opcnt        int64
	order        int
	pathWords    int64
	nwords       int64
	synchronized bool
	shortkeys    bool
	cacheDepth   int
	clogClass    uint64
	seqStart     uint64
	seqEnd       uint64
	clogNobj     int64
	clogOpcnt    int64
}

func (h *header) words() []uint64 {
	return []uint64{
		fileCap, fileCap, fileCap, fileCap,
		h.typeinfo, uint64(h.smode), startDelim, startDelim,
		h.obid.H, h.obid.L, h.version, uint64(h.t0), uint64(h.t1), h.incomplete, 0, 0,
		uint64(h.nobj), uint64(h.opcnt), uint64(h.order), uint64(h.pathWords), uint64(h.nwords), 0, 0, 0,
		boolWord(h.synchronized), boolWord(h.shortkeys), uint64(int64(h.cacheDepth)), h.clogClass,
		h.seqStart, h.seqEnd, uint64(h.clogNobj), uint64(h.clogOpcnt),
	}
}

// readPrehead consumes the file cap, typeinfo and mode words.
func readPrehead(r *wordio.Reader) (uint64, streamMode, error) {
	var w [preheadWords]uint64
	if err := r.ReadWords(w[:]); err != nil {
		return 0, 0, corrupt("prehead: %v", err)
	}
	for _, v := range w[:4] {
		if v != fileCap {
			return 0, 0, corrupt("bad file cap %016x", v)
		}
	}
	if w[4] != TypeInfoFramehash {
		return 0, 0, corrupt("typeinfo %016x is not a framehash", w[4])
	}
	return w[4], streamMode(w[5]), nil
}

// readHeader consumes the header words that follow the prehead, and the path.
func readHeader(r *wordio.Reader, typeinfo uint64, smode streamMode) (header, string, error) {
	h := header{typeinfo: typeinfo, smode: smode}
	var w [headerWords - preheadWords]uint64
	if err := r.ReadWords(w[:]); err != nil {
		return h, "", corrupt("header: %v", err)
	}
	if w[0] != startDelim || w[1] != startDelim {
		return h, "", corrupt("bad start delimiter")
	}
	h.obid = hash.ObjectID{H: w[2], L: w[3]}
	h.version = w[4]
	h.t0, h.t1, h.incomplete = int64(w[5]), int64(w[6]), w[7]
	h.nobj, h.opcnt = int64(w[10]), int64(w[11])
	h.order = int(w[12])
	h.pathWords, h.nwords = int64(w[13]), int64(w[14])
	h.synchronized, h.shortkeys = w[18] != 0, w[19] != 0
	h.cacheDepth = int(int64(w[20]))
	if h.version != config.PreviousFormatVersion {
		h.clogClass, h.seqStart, h.seqEnd = w[21], w[22], w[23]
		h.clogNobj, h.clogOpcnt = int64(w[24]), int64(w[25])
	}
	if h.incomplete != 0 {
		return h, "", corrupt("incomplete stream")
	}
	if h.order < config.MinOrder || h.order > config.MaxOrder {
		return h, "", corrupt("top order %d", h.order)
	}
	if h.cacheDepth < -1 || h.cacheDepth > config.DefaultMaxCacheDepth {
		return h, "", corrupt("cache depth %d", h.cacheDepth)
	}
	if h.nobj < 0 || h.nwords != headerWords+h.pathWords {
		return h, "", corrupt("header size %d, path %d", h.nwords, h.pathWords)
	}
	var path string
	if h.pathWords > 0 {
		before := r.Pos()
		b, err := r.ReadBytes()
		if err != nil {
			return h, "", corrupt("path: %v", err)
		}
		if r.Pos()-before != h.pathWords {
			return h, "", corrupt("path size %d", r.Pos()-before)
		}
		path = string(b)
	}
	return h, path, nil
}

// knownVersion reports whether v is a format version this library writes or
// has written. Other versions are read with the current layout.
func knownVersion(v uint64) bool {
	return v == config.FormatVersion || v == config.PreviousFormatVersion
}

// pathWords returns the number of words WriteBytes uses for path.
func pathWords(path string) int64 {
	if path == "" {
		return 0
	}
	return 1 + int64(len(path)+wordio.WordSize-1)/wordio.WordSize
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Summary ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// summaryWords layout: reserved, p_max, n_top, n_cache, n_internal,
// n_leaf[0..PMax], n_basement.
func (s *frameSummary) words() []uint64 {
	out := make([]uint64, 0, summaryWords)
	for range summaryWords - config.PMax - 6 {
		out = append(out, 0)
	}
	out = append(out, config.PMax, 1, uint64(s.cache-1), uint64(s.internal))
	for _, n := range s.leaf {
		out = append(out, uint64(n))
	}
	return append(out, uint64(s.basements))
}

func readSummary(r *wordio.Reader) ([]uint64, error) {
	w := make([]uint64, summaryWords)
	if err := r.ReadWords(w); err != nil {
		return nil, corrupt("summary: %v", err)
	}
	off := summaryWords - config.PMax - 6
	if w[off] != config.PMax {
		return nil, corrupt("incompatible p_max %d", w[off])
	}
	if w[off+1] != 1 {
		return nil, corrupt("%d top frames", w[off+1])
	}
	return w, nil
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Metas ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type metas struct {
	ftype     frameType
	order     int
	domain    int
	nactive   int
	chainbits uint16
	hasnext   bool
	dobalance bool
}

func packMetas(f *frame) uint64 {
	var flags uint64
	if f.hasnext {
		flags |= 1
	}
	if f.dobalance {
		flags |= 2
	}
	return uint64(f.ftype) |
		uint64(f.order)<<8 |
		uint64(f.domain&0xFF)<<16 |
		uint64(f.nactive&0xFFFF)<<24 |
		uint64(f.chainbits)<<40 |
		flags<<56
}

func unpackMetas(w uint64) metas {
	return metas{
		ftype:     frameType(w & 0xFF),
		order:     int(w>>8) & 0xFF,
		domain:    int(w>>16) & 0xFF,
		nactive:   int(w>>24) & 0xFFFF,
		chainbits: uint16(w >> 40),
		hasnext:   (w>>56)&1 != 0,
		dobalance: (w>>56)&2 != 0,
	}
}

func frameMarker(t frameType) uint64 {
	switch t {
	case frameCache:
		return markerCache
	case frameLeaf:
		return markerLeaf
	case frameInternal:
		return markerInternal
	default:
		return markerBasement
	}
}

func markerType(m uint64) frameType {
	switch m {
	case markerCache:
		return frameCache
	case markerLeaf:
		return frameLeaf
	case markerInternal:
		return frameInternal
	case markerBasement:
		return frameBasement
	default:
		return frameNone
	}
}

func cellTypeWord(k KeyType, v ValueType) uint64 {
	return uint64(v)<<32 | uint64(k)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Output ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// streamWriter writes one map. Word counts are relative to the start of the
// map's stream so nested streams validate on their own.
type streamWriter struct {
	w     *wordio.Writer
	start int64
}

func (sw *streamWriter) n() uint64 {
	return uint64(sw.w.Count() - sw.start)
}

// frame writes the frame referenced by ref and everything below it.
func (sw *streamWriter) frame(ref *Cell, prefix uint64) error {
	f := ref.frame
	if err := sw.w.WriteWords(frameDelimA, frameDelimB, frameMarker(f.ftype), packMetas(f), prefix); err != nil {
		return err
	}
	switch f.ftype {
	case frameCache:
		if err := sw.cacheFrame(f, prefix); err != nil {
			return err
		}
	case frameLeaf:
		for i := range f.cells {
			if err := sw.cell(&f.cells[i]); err != nil {
				return err
			}
		}
	case frameInternal:
		for i := range f.cells {
			if err := sw.cell(&f.cells[i]); err != nil {
				return err
			}
		}
		for q := 0; q < nchainSlots(f.order); q++ {
			if !f.isChain(q) {
				continue
			}
			for j := 0; j < config.CellsPerSlot; j++ {
				chain := &f.cells[f.chainSlotCell(q, j)]
				if !chain.hasFrame() {
					continue
				}
				if err := sw.frame(chain, prefix<<config.PMax|uint64(q*config.CellsPerSlot+j)); err != nil {
					return err
				}
			}
		}
	case frameBasement:
		for i := 0; i <= config.BasementSize; i++ {
			if err := sw.cell(&f.cells[i]); err != nil {
				return err
			}
		}
		if f.hasnext {
			if err := sw.frame(nextBasement(f), prefix); err != nil {
				return err
			}
		}
	}
	if err := sw.w.WriteWord(checkpoint); err != nil {
		return err
	}
	return sw.w.WriteWord(sw.n())
}

// cacheFrame writes placeholders for the cached copies, then the chains.
// Caches must be flushed before serialization.
func (sw *streamWriter) cacheFrame(f *frame, prefix uint64) error {
	for fx := 0; fx < f.nslots(); fx++ {
		base := cacheSlot(fx)
		for j := 0; j < cacheCellsPerSlot; j++ {
			if f.cells[base+j].dirty {
				return fmt.Errorf("dirty cache cell in %s: %w", f, ErrNotSerializable)
			}
			if err := sw.w.WriteWords(cellTypeWord(KeyNone, ValueEmpty), 0, 0); err != nil {
				return err
			}
		}
		if err := sw.cell(&f.cells[base+cacheChainCell]); err != nil {
			return err
		}
	}
	for fx := 0; fx < f.nslots(); fx++ {
		chain := &f.cells[cacheSlot(fx)+cacheChainCell]
		if !chain.hasFrame() {
			continue
		}
		if err := sw.frame(chain, prefix<<uint(f.order)|uint64(fx)); err != nil {
			return err
		}
	}
	return nil
}

// cell writes one cell. HASH128 scalar items carry the high id half in an
// extra word; members carry it as their value.
func (sw *streamWriter) cell(c *Cell) error {
	switch c.state {
	case cellEnd:
		return sw.w.WriteWords(cellTypeWord(KeyNone, ValueEnd), 0, 0)
	case cellEmpty:
		return sw.w.WriteWords(cellTypeWord(KeyNone, ValueEmpty), 0, 0)
	case cellChain:
		if c.frame == nil {
			return sw.w.WriteWords(cellTypeWord(KeyNone, ValueEnd), 0, 0)
		}
		return sw.w.WriteWords(cellTypeWord(KeyNone, ValueChain), 0, 0)
	}
	if c.dirty || c.invalid {
		return fmt.Errorf("cached cell outside a cache frame: %w", ErrNotSerializable)
	}
	tw := cellTypeWord(c.ktype, c.vtype)
	switch c.vtype {
	case ValuePointer:
		return fmt.Errorf("pointer value: %w", ErrNotSerializable)
	case ValueObject64, ValueObject128:
		return sw.object(c)
	case ValueMember:
		return sw.w.WriteWords(tw, c.annotation, c.idH)
	}
	if err := sw.w.WriteWords(tw, c.annotation, c.bits); err != nil {
		return err
	}
	if c.ktype == KeyHash128 {
		return sw.w.WriteWord(c.idH)
	}
	return nil
}

func (sw *streamWriter) object(c *Cell) error {
	s, ok := c.obj.(Serializable)
	if !ok {
		return fmt.Errorf("object %T: %w", c.obj, ErrNotSerializable)
	}
	ti := s.TypeInfo()
	if lookupDecoder(ti) == nil {
		return fmt.Errorf("object %T has no decoder for %016x: %w", c.obj, ti, ErrNotSerializable)
	}
	id := c.obj.ObjectID()
	if err := sw.w.WriteWords(cellTypeWord(c.ktype, c.vtype), c.annotation, ti, beginObjectA, beginObjectB, id.H, id.L); err != nil {
		return err
	}
	if err := s.MarshalWords(sw.w); err != nil {
		return err
	}
	if err := sw.w.WriteWords(endObjectA, endObjectB); err != nil {
		return err
	}
	return sw.w.WriteWord(sw.n())
}

// writeStream writes the complete stream of fh: header, path, frame
// summary, frames and end record. The caller holds the instance or it is
// readonly, and caches are flushed.
func (fh *Framehash) writeStream(w *wordio.Writer, smode streamMode, path string, h header) error {
	sw := &streamWriter{w: w, start: w.Count()}
	h.typeinfo = TypeInfoFramehash
	h.smode = smode
	h.obid = fh.id
	h.version = config.FormatVersion
	h.nobj = fh.nobj.Load()
	h.opcnt = fh.opcnt.Load()
	h.order = fh.order
	h.pathWords = pathWords(path)
	h.nwords = headerWords + h.pathWords
	h.synchronized = fh.synchronized
	h.shortkeys = fh.shortkeys
	h.cacheDepth = fh.cacheDepth
	h.t0 = time.Now().Unix()
	h.t1 = h.t0
	if err := w.WriteWords(h.words()...); err != nil {
		return err
	}
	if path != "" {
		if err := w.WriteBytes([]byte(path)); err != nil {
			return err
		}
	}
	var summary frameSummary
	summary.collect(&fh.top)
	if err := w.WriteWords(summary.words()...); err != nil {
		return err
	}
	if err := sw.frame(&fh.top, 0); err != nil {
		return err
	}
	if err := w.WriteWords(endDelim, endDelim, uint64(time.Now().Unix())); err != nil {
		return err
	}
	return w.WriteWords(sw.n(), fileCap, fileCap, fileCap, fileCap)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Input ////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// streamReader rebuilds one map. Frames are attached as soon as they are
// allocated, so discarding the top reference releases a failed attempt.
type streamReader struct {
	r          *wordio.Reader
	start      int64
	dyn        *Dynamic
	cacheDepth int
	nitems     int64
	objects    []Object // Decoded objects, destroyed if the load fails.
}

func (sr *streamReader) n() uint64 {
	return uint64(sr.r.Pos() - sr.start)
}

func (sr *streamReader) word() (uint64, error) {
	v, err := sr.r.ReadWord()
	if err != nil {
		return 0, corrupt("at word %d: %v", sr.n(), err)
	}
	return v, nil
}

func (sr *streamReader) expect(want ...uint64) error {
	for _, w := range want {
		v, err := sr.word()
		if err != nil {
			return err
		}
		if v != w {
			return corrupt("at word %d: found %016x, expected %016x", sr.n()-1, v, w)
		}
	}
	return nil
}

// checkCount consumes a word count and compares it with the position.
func (sr *streamReader) checkCount() error {
	want := sr.n()
	v, err := sr.word()
	if err != nil {
		return err
	}
	if v != want {
		return corrupt("word count %d at word %d", v, want)
	}
	return nil
}

// frame reads a frame into ref. domain and prefix are where the frame must
// sit in the structure.
func (sr *streamReader) frame(ref *Cell, domain int, prefix uint64, topOrder int) error {
	if err := sr.expect(frameDelimA, frameDelimB); err != nil {
		return err
	}
	mw, err := sr.word()
	if err != nil {
		return err
	}
	ftype := markerType(mw)
	if ftype == frameNone {
		return corrupt("frame marker %016x", mw)
	}
	if mw, err = sr.word(); err != nil {
		return err
	}
	m := unpackMetas(mw)
	if m.ftype != ftype || m.domain != domain {
		return corrupt("%s frame metas %016x at domain %d", ftype, mw, domain)
	}
	switch {
	case domain == config.DomainTop:
		if ftype != frameCache || m.order != topOrder {
			return corrupt("top frame %s p=%d", ftype, m.order)
		}
	case domain >= config.DomainFirstBasement:
		if ftype != frameBasement || domain > config.DomainLastBasement {
			return corrupt("%s frame at domain %d", ftype, domain)
		}
	case ftype == frameBasement:
		return corrupt("basement at domain %d", domain)
	case ftype == frameLeaf && m.order > config.PMax,
		ftype == frameInternal && m.order != config.PMax,
		ftype == frameCache && m.order != config.PMax:
		return corrupt("%s frame p=%d", ftype, m.order)
	}
	p, err := sr.word()
	if err != nil {
		return err
	}
	if p != prefix {
		return corrupt("frame prefix %x, expected %x", p, prefix)
	}
	if err := sr.dyn.newFrame(ref, m.order, domain, ftype, sr.cacheDepth); err != nil {
		return err
	}
	f := ref.frame
	f.dobalance = m.dobalance
	switch ftype {
	case frameCache:
		err = sr.cacheFrame(f, prefix)
	case frameLeaf:
		err = sr.leafFrame(f, m)
	case frameInternal:
		err = sr.internalFrame(f, m, prefix)
	case frameBasement:
		err = sr.basementFrame(f, m, prefix)
	}
	if err != nil {
		return err
	}
	if err := sr.expect(checkpoint); err != nil {
		return err
	}
	return sr.checkCount()
}

func (sr *streamReader) cacheFrame(f *frame, prefix uint64) error {
	for fx := 0; fx < f.nslots(); fx++ {
		for j := 0; j < cacheCellsPerSlot; j++ {
			if err := sr.expect(cellTypeWord(KeyNone, ValueEmpty), 0, 0); err != nil {
				return err
			}
		}
		item, err := sr.cell(&f.cells[cacheSlot(fx)+cacheChainCell], true)
		if err != nil {
			return err
		}
		if item {
			return corrupt("item in chain cell of %s", f)
		}
	}
	for fx := 0; fx < f.nslots(); fx++ {
		chain := &f.cells[cacheSlot(fx)+cacheChainCell]
		if chain.state != cellChain {
			continue
		}
		if err := sr.frame(chain, f.domain+1, prefix<<uint(f.order)|uint64(fx), 0); err != nil {
			return err
		}
		f.nchains.Add(1)
	}
	return nil
}

func (sr *streamReader) leafFrame(f *frame, m metas) error {
	for i := range f.cells {
		item, err := sr.cell(&f.cells[i], false)
		if err != nil {
			return err
		}
		if item {
			f.nactive++
		}
	}
	if f.nactive != m.nactive {
		return corrupt("%s holds %d items, metas say %d", f, f.nactive, m.nactive)
	}
	return nil
}

func (sr *streamReader) internalFrame(f *frame, m metas, prefix uint64) error {
	f.chainbits = m.chainbits
	chainCells := make(map[int]bool, nchainSlots(f.order)*config.CellsPerSlot)
	for q := 0; q < nchainSlots(f.order); q++ {
		if f.isChain(q) {
			for j := 0; j < config.CellsPerSlot; j++ {
				chainCells[f.chainSlotCell(q, j)] = true
			}
		}
	}
	for i := range f.cells {
		item, err := sr.cell(&f.cells[i], chainCells[i])
		if err != nil {
			return err
		}
		if item && chainCells[i] {
			return corrupt("item in chain slot of %s", f)
		}
		if item {
			f.nactive++
		}
	}
	if f.nactive != m.nactive {
		return corrupt("%s holds %d items, metas say %d", f, f.nactive, m.nactive)
	}
	for q := 0; q < nchainSlots(f.order); q++ {
		if !f.isChain(q) {
			continue
		}
		for j := 0; j < config.CellsPerSlot; j++ {
			chain := &f.cells[f.chainSlotCell(q, j)]
			if chain.state != cellChain {
				continue
			}
			if err := sr.frame(chain, f.domain+1, prefix<<config.PMax|uint64(q*config.CellsPerSlot+j), 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sr *streamReader) basementFrame(f *frame, m metas, prefix uint64) error {
	for i := 0; i < config.BasementSize; i++ {
		item, err := sr.cell(&f.cells[i], false)
		if err != nil {
			return err
		}
		if item {
			f.nactive++
		}
	}
	if f.nactive != m.nactive {
		return corrupt("%s holds %d items, metas say %d", f, f.nactive, m.nactive)
	}
	next := nextBasement(f)
	item, err := sr.cell(next, true)
	if err != nil {
		return err
	}
	if item {
		return corrupt("item in next reference of %s", f)
	}
	if (next.state == cellChain) != m.hasnext {
		return corrupt("%s next reference does not match metas", f)
	}
	if !m.hasnext {
		return nil
	}
	f.hasnext = true
	return sr.frame(next, f.domain+1, prefix, 0)
}

// cell reads one cell into c and reports whether it is an item. A chain
// marker leaves c as a chain cell without a frame.
func (sr *streamReader) cell(c *Cell, allowChain bool) (bool, error) {
	var w [cellWords]uint64
	if err := sr.r.ReadWords(w[:]); err != nil {
		return false, corrupt("cell at word %d: %v", sr.n(), err)
	}
	ktype, vtype := KeyType(w[0]&0xFFFFFFFF), ValueType(w[0]>>32)
	switch vtype {
	case ValueEnd:
		*c = Cell{state: cellEnd}
		return false, nil
	case ValueEmpty:
		*c = Cell{state: cellEmpty}
		return false, nil
	case ValueChain:
		if !allowChain {
			return false, corrupt("unexpected chain cell at word %d", sr.n())
		}
		*c = Cell{state: cellChain}
		return false, nil
	}
	if !validKeyType(ktype) {
		return false, corrupt("key type %d at word %d", ktype, sr.n())
	}
	*c = Cell{state: cellItem, ktype: ktype, vtype: vtype, annotation: w[1]}
	switch vtype {
	case ValueMember:
		if ktype == KeyHash128 {
			c.idH = w[2]
		}
	case ValueBoolean, ValueUnsigned, ValueInteger, ValueReal:
		c.bits = w[2]
		if ktype == KeyHash128 {
			h, err := sr.word()
			if err != nil {
				return false, err
			}
			c.idH = h
		}
	case ValueObject64, ValueObject128:
		if (vtype == ValueObject128) != (ktype == KeyHash128) {
			return false, corrupt("%s value under %s key", vtype, ktype)
		}
		obj, id, err := sr.object(w[2])
		if err != nil {
			return false, err
		}
		c.obj = obj
		if vtype == ValueObject128 {
			if id.L != c.annotation {
				return false, corrupt("object %s stored under shortid %016x", id, c.annotation)
			}
			c.idH = id.H
			c.own = Owned
		} else {
			c.own = Borrowed
		}
	default:
		return false, corrupt("value type %d at word %d", vtype, sr.n())
	}
	sr.nitems++
	return true, nil
}

func (sr *streamReader) object(typeinfo uint64) (Object, hash.ObjectID, error) {
	var id hash.ObjectID
	dec := lookupDecoder(typeinfo)
	if dec == nil {
		return nil, id, corrupt("no decoder for typeinfo %016x", typeinfo)
	}
	if err := sr.expect(beginObjectA, beginObjectB); err != nil {
		return nil, id, err
	}
	var w [2]uint64
	if err := sr.r.ReadWords(w[:]); err != nil {
		return nil, id, corrupt("object id: %v", err)
	}
	id = hash.ObjectID{H: w[0], L: w[1]}
	obj, err := dec(sr.r, id, sr.dyn)
	if err != nil {
		return nil, id, fmt.Errorf("decode object %s: %w", id, err)
	}
	sr.objects = append(sr.objects, obj)
	if obj.ObjectID() != id {
		return nil, id, corrupt("decoded object %s, expected %s", obj.ObjectID(), id)
	}
	if err := sr.expect(endObjectA, endObjectB); err != nil {
		return nil, id, err
	}
	return obj, id, sr.checkCount()
}

// readStream rebuilds a map from the stream whose prehead started at word
// start and has been consumed. opts supplies allocators, hasher and logger;
// geometry and policy come from the header.
func readStream(r *wordio.Reader, start int64, typeinfo uint64, smode streamMode, opts Options) (*Framehash, header, string, error) {
	h, path, err := readHeader(r, typeinfo, smode)
	if err != nil {
		return nil, h, "", err
	}
	want, err := readSummary(r)
	if err != nil {
		return nil, h, "", err
	}
	opts.Order = h.order
	opts.CacheDepth = h.cacheDepth
	opts.Synchronized = h.synchronized
	opts.ShortKeys = h.shortkeys
	opts.Masterpath = path
	opts.Changelog = false
	fh, err := New(opts)
	if err != nil {
		return nil, h, "", err
	}
	fh.id = h.obid
	fh.dyn.discard(&fh.top)
	if !knownVersion(h.version) {
		fh.log.Infof("format version mismatch, found %04x, expected %04x", h.version, config.FormatVersion)
	}

	sr := &streamReader{r: r, start: start, dyn: fh.dyn, cacheDepth: fh.cacheDepth}
	fail := func(err error) (*Framehash, header, string, error) {
		for _, o := range sr.objects {
			o.Destroy()
		}
		fh.dyn.discard(&fh.top)
		return nil, h, "", err
	}
	if err := sr.frame(&fh.top, config.DomainTop, 0, h.order); err != nil {
		return fail(err)
	}
	var got frameSummary
	got.collect(&fh.top)
	for i, v := range got.words() {
		if v != want[i] {
			return fail(corrupt("frame summary word %d: found %d, expected %d", i, v, want[i]))
		}
	}
	if sr.nitems != h.nobj {
		return fail(corrupt("%d items, header says %d", sr.nitems, h.nobj))
	}
	if err := sr.expect(endDelim, endDelim); err != nil {
		return fail(err)
	}
	if _, err := sr.word(); err != nil {
		return fail(err)
	}
	if err := sr.checkCount(); err != nil {
		return fail(err)
	}
	if err := sr.expect(fileCap, fileCap, fileCap, fileCap); err != nil {
		return fail(err)
	}
	fh.nobj.Store(h.nobj)
	fh.opcnt.Store(h.opcnt)
	return fh, h, path, nil
}
