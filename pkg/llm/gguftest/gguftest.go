// Package gguftest writes GGUF headers for model fixtures.
package gguftest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	ggufparser "github.com/gpustack/gguf-parser-go"
)

type KV struct {
	Key   string
	Value any
}

type Tensor struct {
	Name   string
	Dims   []uint64
	Type   ggufparser.GGMLType
	Offset uint64
}

// WriteHeader encodes a version 3 GGUF header. Values may be any GGUF
// scalar, string, []string, or a []uint8/[]uint32/[]int32/[]float32 array.
// No tensor data is written.
func WriteHeader(w io.Writer, kvs []KV, tensors []Tensor) error {
	bw := bufio.NewWriter(w)
	e := &encoder{w: bw}

	e.u32(uint32(ggufparser.GGUFMagicGGUFLe))
	e.u32(uint32(ggufparser.GGUFVersionV3))
	e.u64(uint64(len(tensors)))
	e.u64(uint64(len(kvs)))

	for _, kv := range kvs {
		e.str(kv.Key)
		if err := e.value(kv.Value); err != nil {
			return fmt.Errorf("failed to encode %s: %w", kv.Key, err)
		}
	}

	for _, t := range tensors {
		e.str(t.Name)
		e.u32(uint32(len(t.Dims)))
		for _, d := range t.Dims {
			e.u64(d)
		}
		e.u32(uint32(t.Type))
		e.u64(t.Offset)
	}

	if e.err != nil {
		return e.err
	}
	return bw.Flush()
}

// WriteFile writes the header to a file in a test temp dir and returns its path.
func WriteFile(t testing.TB, kvs []KV, tensors []Tensor) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.gguf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	if err := WriteHeader(f, kvs, tensors); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) put(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func (e *encoder) u32(v uint32) { e.put(v) }
func (e *encoder) u64(v uint64) { e.put(v) }

func (e *encoder) typ(t ggufparser.GGUFMetadataValueType) { e.u32(uint32(t)) }

func (e *encoder) str(s string) {
	e.u64(uint64(len(s)))
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

func (e *encoder) value(v any) error {
	switch v := v.(type) {
	case uint8:
		e.typ(ggufparser.GGUFMetadataValueTypeUint8)
		e.put(v)
	case int8:
		e.typ(ggufparser.GGUFMetadataValueTypeInt8)
		e.put(v)
	case uint16:
		e.typ(ggufparser.GGUFMetadataValueTypeUint16)
		e.put(v)
	case int16:
		e.typ(ggufparser.GGUFMetadataValueTypeInt16)
		e.put(v)
	case uint32:
		e.typ(ggufparser.GGUFMetadataValueTypeUint32)
		e.put(v)
	case int32:
		e.typ(ggufparser.GGUFMetadataValueTypeInt32)
		e.put(v)
	case float32:
		e.typ(ggufparser.GGUFMetadataValueTypeFloat32)
		e.u32(math.Float32bits(v))
	case bool:
		e.typ(ggufparser.GGUFMetadataValueTypeBool)
		var b uint8
		if v {
			b = 1
		}
		e.put(b)
	case string:
		e.typ(ggufparser.GGUFMetadataValueTypeString)
		e.str(v)
	case uint64:
		e.typ(ggufparser.GGUFMetadataValueTypeUint64)
		e.put(v)
	case int64:
		e.typ(ggufparser.GGUFMetadataValueTypeInt64)
		e.put(v)
	case float64:
		e.typ(ggufparser.GGUFMetadataValueTypeFloat64)
		e.u64(math.Float64bits(v))
	case []string:
		e.typ(ggufparser.GGUFMetadataValueTypeArray)
		e.typ(ggufparser.GGUFMetadataValueTypeString)
		e.u64(uint64(len(v)))
		for _, s := range v {
			e.str(s)
		}
	case []uint8:
		e.typ(ggufparser.GGUFMetadataValueTypeArray)
		e.typ(ggufparser.GGUFMetadataValueTypeUint8)
		e.u64(uint64(len(v)))
		e.put(v)
	case []uint32:
		e.typ(ggufparser.GGUFMetadataValueTypeArray)
		e.typ(ggufparser.GGUFMetadataValueTypeUint32)
		e.u64(uint64(len(v)))
		e.put(v)
	case []int32:
		e.typ(ggufparser.GGUFMetadataValueTypeArray)
		e.typ(ggufparser.GGUFMetadataValueTypeInt32)
		e.u64(uint64(len(v)))
		e.put(v)
	case []float32:
		e.typ(ggufparser.GGUFMetadataValueTypeArray)
		e.typ(ggufparser.GGUFMetadataValueTypeFloat32)
		e.u64(uint64(len(v)))
		e.put(v)
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return e.err
}
