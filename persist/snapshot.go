package persist

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/jcalabro/cuckoo"
)

// Snapshot file layout: the magic string, then one frame per chunk.
//
//	frame := cursor (8, little-endian) | length (4, little-endian) | chunk
const (
	snapshotMagic   = "CFSNAP01"
	frameHeaderSize = 12
)

// WriteSnapshotFile writes f to path. The file is written next to path and
// renamed into place, so readers never see a partial snapshot.
func WriteSnapshotFile(path string, f *cuckoo.Filter) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp file failed")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(snapshotMagic); err != nil {
		return errors.Wrap(err, "write magic failed")
	}
	var hdr [frameHeaderSize]byte
	for cursor, chunk := range dumpAll(f) {
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(cursor))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(chunk)))
		if _, err := w.Write(hdr[:]); err != nil {
			return errors.Wrap(err, "write frame failed")
		}
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrap(err, "write frame failed")
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush failed")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync failed")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close file failed")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "rename to %s failed", path)
	}
	return nil
}

// ReadSnapshotFile maps the snapshot at path read-only and rebuilds the
// filter from its frames. Frames are bounds-checked before they reach the
// codec, which validates the chunks themselves.
func ReadSnapshotFile(path string, opts ...cuckoo.Option) (*cuckoo.Filter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file failed")
	}
	defer file.Close()

	st, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat failed")
	}
	if st.Size() < int64(len(snapshotMagic)) {
		return nil, errors.Wrapf(cuckoo.ErrCorruptData, "snapshot of %d bytes", st.Size())
	}

	m, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mmap file failed")
	}
	defer m.Unmap()

	if !bytes.Equal(m[:len(snapshotMagic)], []byte(snapshotMagic)) {
		return nil, errors.Wrap(cuckoo.ErrCorruptData, "bad snapshot magic")
	}

	var frameErr error
	f, err := cuckoo.Load(frames(m[len(snapshotMagic):], &frameErr), opts...)
	if frameErr != nil {
		return nil, errors.Wrapf(frameErr, "read snapshot %s failed", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s failed", path)
	}
	return f, nil
}

// frames yields the chunks of a snapshot body. Chunks alias the mapping, so
// they are only valid until it is unmapped. A truncated frame stops the
// sequence and is reported through errp.
func frames(body []byte, errp *error) iter.Seq2[int64, []byte] {
	return func(yield func(int64, []byte) bool) {
		for len(body) > 0 {
			if len(body) < frameHeaderSize {
				*errp = fmt.Errorf("%w: truncated frame header", cuckoo.ErrCorruptData)
				return
			}
			cursor := int64(binary.LittleEndian.Uint64(body[0:8]))
			n := uint64(binary.LittleEndian.Uint32(body[8:12]))
			body = body[frameHeaderSize:]
			if n > uint64(len(body)) {
				*errp = fmt.Errorf("%w: frame of %d bytes, %d left", cuckoo.ErrCorruptData, n, len(body))
				return
			}
			if !yield(cursor, body[:n:n]) {
				return
			}
			body = body[n:]
		}
	}
}
