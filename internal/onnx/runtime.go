package onnx

import (
	"fmt"
	"log/slog"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnvironment initializes the process-wide runtime on first use.
// Every successful call must be paired with releaseEnvironment.
func acquireEnvironment(useGPU bool) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !onnxrt.IsInitialized() {
		lib, err := FindLibrary(useGPU)
		if err != nil {
			return err
		}
		onnxrt.SetSharedLibraryPath(lib)
		if err := onnxrt.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize ONNX Runtime: %w", err)
		}
		slog.Debug("ONNX Runtime initialized", "library", lib, "version", onnxrt.GetVersion())
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 && onnxrt.IsInitialized() {
		if err := onnxrt.DestroyEnvironment(); err != nil {
			slog.Warn("failed to destroy ONNX Runtime environment", "error", err)
		}
	}
}

// RuntimeInfo describes the runtime library found on this host.
type RuntimeInfo struct {
	Library string `json:"library"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Probe locates and loads the runtime library and reports its version.
// It never returns an error; failures are described in RuntimeInfo.Error.
func Probe(useGPU bool) RuntimeInfo {
	lib, err := FindLibrary(useGPU)
	if err != nil {
		return RuntimeInfo{Error: err.Error()}
	}
	info := RuntimeInfo{Library: lib}
	if err := acquireEnvironment(useGPU); err != nil {
		info.Error = err.Error()
		return info
	}
	defer releaseEnvironment()
	info.Version = onnxrt.GetVersion()
	return info
}

// TensorInfo describes one model input or output.
type TensorInfo struct {
	Name       string  `json:"name"`
	Dimensions []int64 `json:"dimensions"`
	DataType   string  `json:"data_type"`
}

// ModelIO is what the runtime reports about a model file.
type ModelIO struct {
	Inputs   []TensorInfo `json:"inputs"`
	Outputs  []TensorInfo `json:"outputs"`
	Producer string       `json:"producer,omitempty"`
	Version  int64        `json:"version,omitempty"`
}

// Inspect reads the input and output signature and metadata of an ONNX
// model without creating a session.
func Inspect(path string, useGPU bool) (ModelIO, error) {
	if err := acquireEnvironment(useGPU); err != nil {
		return ModelIO{}, err
	}
	defer releaseEnvironment()

	inputs, outputs, err := onnxrt.GetInputOutputInfo(path)
	if err != nil {
		return ModelIO{}, fmt.Errorf("read model signature: %w", err)
	}
	io := ModelIO{Inputs: tensorInfos(inputs), Outputs: tensorInfos(outputs)}

	meta, err := onnxrt.GetModelMetadata(path)
	if err != nil {
		slog.Debug("model metadata unavailable", "path", path, "error", err)
		return io, nil
	}
	defer func() {
		if err := meta.Destroy(); err != nil {
			slog.Warn("failed to destroy model metadata", "error", err)
		}
	}()
	if p, err := meta.GetProducerName(); err == nil {
		io.Producer = p
	}
	if v, err := meta.GetVersion(); err == nil {
		io.Version = v
	}
	return io, nil
}

func tensorInfos(in []onnxrt.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(in))
	for _, i := range in {
		out = append(out, TensorInfo{
			Name:       i.Name,
			Dimensions: []int64(i.Dimensions),
			DataType:   fmt.Sprint(i.DataType),
		})
	}
	return out
}
