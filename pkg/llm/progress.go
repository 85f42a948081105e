package llm

// LoadProgress is one of the events below, delivered in order while a model
// loads.
type LoadProgress interface {
	isLoadProgress()
}

type HyperparametersLoaded struct {
	Hyperparameters Hyperparameters
}

type BadToken struct {
	Index int
}

type ContextSize struct {
	Bytes int64
}

type MemorySize struct {
	Bytes int64
	NMem  int
}

type PartLoading struct {
	File        string
	CurrentPart int
	TotalParts  int
}

type PartTensorLoaded struct {
	File          string
	CurrentTensor int
	TensorCount   int
}

type PartLoaded struct {
	File        string
	ByteSize    int64
	TensorCount int
}

func (HyperparametersLoaded) isLoadProgress() {}
func (BadToken) isLoadProgress()              {}
func (ContextSize) isLoadProgress()           {}
func (MemorySize) isLoadProgress()            {}
func (PartLoading) isLoadProgress()           {}
func (PartTensorLoaded) isLoadProgress()      {}
func (PartLoaded) isLoadProgress()            {}
