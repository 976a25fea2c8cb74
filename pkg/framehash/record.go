package framehash

import (
	"fmt"
	"reflect"

	"framehash/pkg/hash"
	"framehash/pkg/wordio"

	"github.com/fxamacker/cbor/v2"
)

// TypeInfoRecord tags serialized Record objects.
const TypeInfoRecord uint64 = 0x4652_4543_0000_0001

var (
	recordEnc cbor.EncMode
	recordDec cbor.DecMode
)

func init() {
	var err error
	if recordEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	recordDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	RegisterObjectDecoder(TypeInfoRecord, decodeRecord)
}

// Record is a serializable object holding named fields. Fields are encoded
// as a CBOR map, so decoded integers come back as uint64 or int64.
type Record struct {
	id     hash.ObjectID
	Fields map[string]any
}

// NewRecord returns a record with the given id. A zero id is replaced by a
// random one.
func NewRecord(id hash.ObjectID, fields map[string]any) *Record {
	if id.IsZero() {
		id = NewObjectID()
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return &Record{id: id, Fields: fields}
}

func (r *Record) ObjectID() hash.ObjectID { return r.id }

// Destroy drops the fields.
func (r *Record) Destroy() { r.Fields = nil }

func (r *Record) TypeInfo() uint64 { return TypeInfoRecord }

// MarshalCBOR returns the fields as deterministic CBOR.
func (r *Record) MarshalCBOR() ([]byte, error) {
	return recordEnc.Marshal(r.Fields)
}

// MarshalWords writes the CBOR payload as a byte string.
func (r *Record) MarshalWords(w *wordio.Writer) error {
	b, err := r.MarshalCBOR()
	if err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// recordFromCBOR rebuilds a record from its payload.
func recordFromCBOR(id hash.ObjectID, payload []byte) (*Record, error) {
	fields := map[string]any{}
	if err := recordDec.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	return &Record{id: id, Fields: fields}, nil
}

func decodeRecord(r *wordio.Reader, id hash.ObjectID, _ *Dynamic) (Object, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	return recordFromCBOR(id, b)
}
