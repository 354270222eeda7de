package history

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/kestrel/internal/ir"
	"github.com/roach88/kestrel/internal/resource"
)

// FormatVersion is the stream layout version written by Encode.
const FormatVersion uint16 = 1

var magic = [8]byte{'K', 'S', 'T', 'R', 'H', 'I', 'S', 'T'}

const schemaDomain = "kestrel/history-schema/v1"

// maxEntrySize bounds a single entry so a corrupt length cannot force a
// huge allocation.
const maxEntrySize = 64 << 20

// SchemaDigest identifies the set of registered value types.
func SchemaDigest() ir.Digest {
	h := ir.NewHasher(schemaDomain)
	for _, tag := range resource.Tags() {
		h.String(tag)
	}
	return h.Sum()
}

// Encode writes every entry in fingerprint order.
//
// Layout: magic, version (uint16 BE), schema digest, entry count (uvarint),
// then per entry the fingerprint and a length-prefixed payload.
func (c *Cache) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	schema := SchemaDigest()
	var hdr []byte
	hdr = append(hdr, magic[:]...)
	hdr = binary.BigEndian.AppendUint16(hdr, FormatVersion)
	hdr = append(hdr, schema[:]...)

	var body []byte
	n := 0
	c.Each(func(fp ir.Digest, e Entry) bool {
		raw := e.bytes()
		body = append(body, fp[:]...)
		body = binary.AppendUvarint(body, uint64(len(raw)))
		body = append(body, raw...)
		n++
		return true
	})
	hdr = binary.AppendUvarint(hdr, uint64(n))

	if _, err := bw.Write(hdr); err != nil {
		return fmt.Errorf("encode history header: %w", err)
	}
	if _, err := bw.Write(body); err != nil {
		return fmt.Errorf("encode history entries: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return nil
}

// DecodeResult summarizes a Decode call.
type DecodeResult struct {
	Loaded  int
	Skipped []*SerializationError
}

// Decode reads a stream produced by Encode and inserts its entries. An
// entry that fails to decode is logged and skipped. A header that does not
// match returns ErrFormatMismatch and loads nothing.
func (c *Cache) Decode(r io.Reader) (DecodeResult, error) {
	var res DecodeResult
	br := bufio.NewReader(r)

	var hdr [len(magic) + 2 + len(ir.Digest{})]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return res, fmt.Errorf("%w: short header: %v", ErrFormatMismatch, err)
	}
	if !bytes.Equal(hdr[:len(magic)], magic[:]) {
		return res, fmt.Errorf("%w: bad magic", ErrFormatMismatch)
	}
	if v := binary.BigEndian.Uint16(hdr[len(magic):]); v != FormatVersion {
		return res, fmt.Errorf("%w: version %d, want %d", ErrFormatMismatch, v, FormatVersion)
	}
	var schema ir.Digest
	copy(schema[:], hdr[len(magic)+2:])
	if want := SchemaDigest(); schema != want {
		return res, fmt.Errorf("%w: schema %s, want %s", ErrFormatMismatch, schema.Short(), want.Short())
	}

	count, err := binary.ReadUvarint(br)
	if err != nil {
		return res, fmt.Errorf("decode history count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		var fp ir.Digest
		if _, err := io.ReadFull(br, fp[:]); err != nil {
			return res, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		size, err := binary.ReadUvarint(br)
		if err != nil {
			return res, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		if size > maxEntrySize {
			return res, fmt.Errorf("decode history entry %d: size %d exceeds limit", i, size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return res, fmt.Errorf("decode history entry %d: %w", i, err)
		}
		ok, err := c.load(fp, payload)
		if err != nil {
			var se *SerializationError
			if errors.As(err, &se) {
				res.Skipped = append(res.Skipped, se)
				continue
			}
			return res, err
		}
		if ok {
			res.Loaded++
		}
	}
	return res, nil
}

// Load inserts one persisted payload. It returns false without error when
// the payload was skipped as undecodable; the *SerializationError is logged.
func (c *Cache) Load(fp ir.Digest, payload []byte) (bool, error) {
	ok, err := c.load(fp, payload)
	if err != nil && IsSerializationError(err) {
		return false, nil
	}
	return ok, err
}

func (c *Cache) load(fp ir.Digest, payload []byte) (bool, error) {
	e, err := UnmarshalEntry(payload)
	if err != nil {
		se := &SerializationError{Fingerprint: fp, Err: err}
		decodeSkippedTotal.Inc()
		c.logger.Warn("skipping undecodable history entry",
			"fingerprint", fp.Short(),
			"error", err)
		return false, se
	}
	if _, err := c.Insert(fp, e); err != nil {
		return false, err
	}
	return true, nil
}
