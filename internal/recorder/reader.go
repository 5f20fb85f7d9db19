package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"main/internal/model"
)

var ErrChecksumMismatch = errors.New("tick wal checksum mismatch")

// Reader decodes tick WAL records sequentially.
type Reader struct {
	r               *bufio.Reader
	disableChecksum bool
	fixed           [recordFixedSize]byte
	names           []byte
}

// NewReader wraps an io.Reader with tick WAL decoding.
func NewReader(r io.Reader, disableChecksum bool) *Reader {
	return &Reader{
		r:               bufio.NewReader(r),
		disableChecksum: disableChecksum,
	}
}

// Next returns the next recorded tick, or io.EOF at end of stream.
func (r *Reader) Next() (model.CanonicalTick, error) {
	var tick model.CanonicalTick

	n, err := io.ReadFull(r.r, r.fixed[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return tick, io.EOF
		}
		return tick, err
	}

	tsMs, price, size, srcLen, symLen, err := decodeFixed(r.fixed[:])
	if err != nil {
		return tick, err
	}

	total := srcLen + symLen
	if cap(r.names) < total {
		r.names = make([]byte, total)
	}
	r.names = r.names[:total]
	if total > 0 {
		if _, err := io.ReadFull(r.r, r.names); err != nil {
			return tick, err
		}
	}

	var crcBuf [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, crcBuf[:]); err != nil {
		return tick, err
	}
	if !r.disableChecksum {
		crc := crc32.Update(0, crcTable, r.fixed[:])
		crc = crc32.Update(crc, crcTable, r.names)
		if crc != binary.LittleEndian.Uint32(crcBuf[:]) {
			return tick, ErrChecksumMismatch
		}
	}

	tick.Source = string(r.names[:srcLen])
	tick.Symbol = string(r.names[srcLen:])
	tick.TimestampMs = tsMs
	tick.Price = price
	tick.Size = size
	return tick, nil
}

// CollectFiles lists WAL segments under dir with the given prefix in
// lexical (chronological) order.
func CollectFiles(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	want := prefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// LoadTicks reads every tick from all WAL segments under dir.
func LoadTicks(dir, prefix string) ([]model.CanonicalTick, error) {
	files, err := CollectFiles(dir, prefix)
	if err != nil {
		return nil, err
	}
	var ticks []model.CanonicalTick
	for _, path := range files {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader := NewReader(file, false)
		for {
			tick, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = file.Close()
				return nil, err
			}
			ticks = append(ticks, tick)
		}
		if err := file.Close(); err != nil {
			return nil, err
		}
	}
	return ticks, nil
}
