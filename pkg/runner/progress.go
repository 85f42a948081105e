package runner

import (
	"github.com/samogod/llama-embd/pkg/llm"
	"github.com/sirupsen/logrus"
)

const mib = 1024.0 * 1024.0

// ProgressLogger routes load progress to logger. Tensor progress is only
// logged on every interval-th tensor.
func ProgressLogger(logger *logrus.Logger, interval int) llm.ProgressFunc {
	if interval <= 0 {
		interval = 1
	}

	return func(p llm.LoadProgress) {
		switch p := p.(type) {
		case llm.HyperparametersLoaded:
			logger.Debugf("Loaded HyperParams %+v", p.Hyperparameters)
		case llm.BadToken:
			logger.Infof("Warning: Bad token in vocab at index %d", p.Index)
		case llm.ContextSize:
			logger.Infof("ggml ctx size = %.2f MB", float64(p.Bytes)/mib)
		case llm.MemorySize:
			logger.Infof("Memory size: %.2f MB %d", float64(p.Bytes)/mib, p.NMem)
		case llm.PartLoading:
			logger.Infof("Loading model part %d/%d from '%s'", p.CurrentPart, p.TotalParts, p.File)
		case llm.PartTensorLoaded:
			if p.CurrentTensor%interval == 0 {
				logger.Infof("Loaded tensor %d/%d", p.CurrentTensor, p.TensorCount)
			}
		case llm.PartLoaded:
			logger.Infof("Loading of '%s' complete", p.File)
			logger.Infof("Model size = %.2f MB / num tensors = %d", float64(p.ByteSize)/mib, p.TensorCount)
		}
	}
}
