package serializer

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	arrayNativeFilename           = "value.arr"
	arrayNativeCompressedFilename = "value.arr.gz"
)

// modTimeZero matches the disk cache's own hash.bin gzip convention
// (compresslevel=1, mtime=0) so array payloads are byte-identical across
// runs given the same input.
var modTimeZero = time.Unix(0, 0).UTC()

// ArrayNative serializes a []float64 as raw little-endian binary, optionally
// gzip-compressed, the Go analogue of NumpySerializer's raw-or-gzipped .npy
// dump (a fixed binary array format rather than JSON/pickle, for the common
// case of large numeric payloads).
//
// Grounded on original_source/connectome/serializers.py:NumpySerializer.
type ArrayNative struct {
	// CompressLevel > 0 gzip-compresses the payload, matching the disk
	// cache's own hash.bin convention (compresslevel=1, mtime=0).
	CompressLevel int
}

func (a ArrayNative) Save(value any, dir string) error {
	arr, ok := value.([]float64)
	if !ok {
		return errorf("arraynative: unsupported value type %T", value)
	}

	buf := make([]byte, 8*len(arr))
	for i, v := range arr {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}

	if a.CompressLevel > 0 {
		f, err := os.OpenFile(filepath.Join(dir, arrayNativeCompressedFilename), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o444)
		if err != nil {
			return errorf("arraynative: %v", err)
		}
		defer f.Close()
		gw, err := gzip.NewWriterLevel(f, a.CompressLevel)
		if err != nil {
			return errorf("arraynative: %v", err)
		}
		gw.Header.ModTime = modTimeZero
		if _, err := gw.Write(buf); err != nil {
			return errorf("arraynative: %v", err)
		}
		return gw.Close()
	}

	return os.WriteFile(filepath.Join(dir, arrayNativeFilename), buf, 0o444)
}

func (a ArrayNative) Load(dir string) (any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		return nil, errorf("arraynative: unexpected leaf contents in %s", dir)
	}

	name := entries[0].Name()
	var raw []byte
	switch name {
	case arrayNativeFilename:
		raw, err = os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errorf("arraynative: %v", err)
		}
	case arrayNativeCompressedFilename:
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, errorf("arraynative: %v", err)
		}
		defer f.Close()
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, errorf("arraynative: %v", err)
		}
		defer gr.Close()
		raw, err = io.ReadAll(gr)
		if err != nil {
			return nil, errorf("arraynative: %v", err)
		}
	default:
		return nil, errorf("arraynative: unexpected file %s", name)
	}

	if len(raw)%8 != 0 {
		return nil, errorf("arraynative: corrupt payload in %s", dir)
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}
