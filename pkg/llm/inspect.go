package llm

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	ggufparser "github.com/gpustack/gguf-parser-go"
)

// ErrMalformedModel is returned when a model header parses but describes
// data the file does not contain.
var ErrMalformedModel = errors.New("malformed model file")

type ModelFile struct {
	Path            string
	Size            int64
	Header          *ggufparser.GGUFFile
	Hyperparameters Hyperparameters
	Vocab           *Vocab
}

// InspectFile decodes the GGUF header at path and replays it as load progress:
// hyperparameters, bad vocab entries, context and KV memory sizes, then one
// event per tensor in the file.
func InspectFile(path string, nCtx int, progress ProgressFunc) (*ModelFile, error) {
	if progress == nil {
		progress = func(LoadProgress) {}
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}

	gf, tensorBytes, err := parseHeader(path, st.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to read model header: %w", err)
	}

	kvs := gf.Header.MetadataKV
	arch, _ := metaString(kvs, "general.architecture")
	tokens, _ := metaStrings(kvs, "tokenizer.ggml.tokens")
	fileType, _ := metaUint(kvs, "general.file_type")
	archUint := func(key string) int {
		v, _ := metaUint(kvs, arch+"."+key)
		return int(v)
	}

	hp := Hyperparameters{
		Architecture: arch,
		NVocab:       len(tokens),
		NCtxTrain:    archUint("context_length"),
		NEmbd:        archUint("embedding_length"),
		NLayer:       archUint("block_count"),
		NHead:        archUint("attention.head_count"),
		FileType:     int(fileType),
	}
	progress(HyperparametersLoaded{Hyperparameters: hp})

	for i, tok := range tokens {
		if !utf8.ValidString(tok) {
			progress(BadToken{Index: i})
		}
	}

	progress(ContextSize{Bytes: int64(tensorBytes)})

	nMem := hp.NLayer * nCtx
	progress(MemorySize{
		Bytes: 2 * int64(nMem) * int64(hp.NEmbd) * 4,
		NMem:  nMem,
	})

	progress(PartLoading{File: path, CurrentPart: 1, TotalParts: 1})

	total := len(gf.TensorInfos)
	for i := range gf.TensorInfos {
		progress(PartTensorLoaded{File: path, CurrentTensor: i + 1, TensorCount: total})
	}

	progress(PartLoaded{File: path, ByteSize: st.Size(), TensorCount: total})

	return &ModelFile{
		Path:            path,
		Size:            st.Size(),
		Header:          gf,
		Hyperparameters: hp,
		Vocab:           NewVocab(tokens),
	}, nil
}

// parseHeader reads the header twice. The first pass skips array bodies so
// each array's declared extent can be checked against the file size before
// the second pass materializes them.
func parseHeader(path string, size int64) (gf *ggufparser.GGUFFile, tensorBytes uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			gf, tensorBytes = nil, 0
			err = fmt.Errorf("%w: %v", ErrMalformedModel, r)
		}
	}()

	shallow, err := ggufparser.ParseGGUFFile(path, ggufparser.SkipLargeMetadata())
	if err != nil {
		return nil, 0, err
	}
	for _, kv := range shallow.Header.MetadataKV {
		if kv.ValueType != ggufparser.GGUFMetadataValueTypeArray {
			continue
		}
		av := kv.ValueArray()
		if av.Size < 0 || av.StartOffset < 0 || av.StartOffset+av.Size > size {
			return nil, 0, fmt.Errorf("%w: array %s claims %d elements past end of file", ErrMalformedModel, kv.Key, av.Len)
		}
	}

	gf, err = ggufparser.ParseGGUFFile(path)
	if err != nil {
		return nil, 0, err
	}
	return gf, gf.TensorInfos.Bytes(), nil
}

func metaString(kvs ggufparser.GGUFMetadataKVs, key string) (string, bool) {
	kv, ok := kvs.Get(key)
	if !ok || kv.ValueType != ggufparser.GGUFMetadataValueTypeString {
		return "", false
	}
	return kv.ValueString(), true
}

func metaUint(kvs ggufparser.GGUFMetadataKVs, key string) (uint64, bool) {
	kv, ok := kvs.Get(key)
	if !ok {
		return 0, false
	}
	switch kv.ValueType {
	case ggufparser.GGUFMetadataValueTypeUint8, ggufparser.GGUFMetadataValueTypeInt8,
		ggufparser.GGUFMetadataValueTypeUint16, ggufparser.GGUFMetadataValueTypeInt16,
		ggufparser.GGUFMetadataValueTypeUint32, ggufparser.GGUFMetadataValueTypeInt32,
		ggufparser.GGUFMetadataValueTypeUint64, ggufparser.GGUFMetadataValueTypeInt64:
		return ggufparser.ValueNumeric[uint64](kv), true
	}
	return 0, false
}

func metaStrings(kvs ggufparser.GGUFMetadataKVs, key string) ([]string, bool) {
	kv, ok := kvs.Get(key)
	if !ok || kv.ValueType != ggufparser.GGUFMetadataValueTypeArray {
		return nil, false
	}
	av := kv.ValueArray()
	if av.Type != ggufparser.GGUFMetadataValueTypeString {
		return nil, false
	}
	return av.ValuesString(), true
}
