package recorder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"

	"main/internal/model"
)

// Tick record layout (little endian):
//
//	magic(4) version(2) sourceLen(1) symbolLen(1)
//	timestampMs(8) price(8) size(8)
//	source(sourceLen) symbol(symbolLen) crc32(4)
const (
	recordVersion      uint16 = 1
	recordFixedSize           = 32
	recordChecksumSize        = 4
	maxNameLen                = 255
)

var (
	recordMagic = [4]byte{'T', 'K', 'W', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic         = errors.New("tick wal invalid magic")
	ErrUnsupportedRecordVer = errors.New("tick wal unsupported record version")
	ErrNameTooLong          = errors.New("tick wal symbol or source too long")
)

func encodeTick(dst []byte, tick model.CanonicalTick) ([]byte, error) {
	if len(tick.Source) > maxNameLen || len(tick.Symbol) > maxNameLen {
		return nil, ErrNameTooLong
	}
	var fixed [recordFixedSize]byte
	copy(fixed[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(fixed[4:6], recordVersion)
	fixed[6] = byte(len(tick.Source))
	fixed[7] = byte(len(tick.Symbol))
	binary.LittleEndian.PutUint64(fixed[8:16], uint64(tick.TimestampMs))
	binary.LittleEndian.PutUint64(fixed[16:24], math.Float64bits(tick.Price))
	binary.LittleEndian.PutUint64(fixed[24:32], math.Float64bits(tick.Size))

	dst = append(dst, fixed[:]...)
	dst = append(dst, tick.Source...)
	dst = append(dst, tick.Symbol...)

	sum := crc32.Checksum(dst[len(dst)-recordFixedSize-len(tick.Source)-len(tick.Symbol):], crcTable)
	var crcBuf [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	return append(dst, crcBuf[:]...), nil
}

func decodeFixed(src []byte) (tsMs int64, price, size float64, srcLen, symLen int, err error) {
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return 0, 0, 0, 0, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return 0, 0, 0, 0, 0, ErrUnsupportedRecordVer
	}
	srcLen = int(src[6])
	symLen = int(src[7])
	tsMs = int64(binary.LittleEndian.Uint64(src[8:16]))
	price = math.Float64frombits(binary.LittleEndian.Uint64(src[16:24]))
	size = math.Float64frombits(binary.LittleEndian.Uint64(src[24:32]))
	return tsMs, price, size, srcLen, symLen, nil
}
