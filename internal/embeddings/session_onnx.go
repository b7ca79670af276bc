//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// OnnxSession runs a model through ONNX Runtime (via yalue/onnxruntime_go).
type OnnxSession struct {
	session     *ort.DynamicAdvancedSession
	inputs      []InputSpec
	outputNames []string
	outputTypes []ort.TensorElementDataType
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewSession loads modelPath into ONNX Runtime. Requires build tag 'onnx'.
func NewSession(modelPath string, rt RuntimeOptions, logger *zap.Logger) (Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := rt.Resolve()

	if err := acquireEnvironment(resolved.LibraryPath); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	s, err := newOnnxSession(modelPath, resolved, logger)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}
	return s, nil
}

func newOnnxSession(modelPath string, rt ResolvedRuntime, logger *zap.Logger) (*OnnxSession, error) {
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: model %s declares no outputs", ErrModelNotLoaded, modelPath)
	}

	inputs := make([]InputSpec, len(inputsInfo))
	inputNames := make([]string, len(inputsInfo))
	for i, info := range inputsInfo {
		inputs[i] = InputSpec{
			Name:        info.Name,
			ElementType: fromOrtType(info.DataType),
			Dims:        append([]int64(nil), info.Dimensions...),
		}
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputsInfo))
	outputTypes := make([]ort.TensorElementDataType, len(outputsInfo))
	for i, info := range outputsInfo {
		outputNames[i] = info.Name
		outputTypes[i] = info.DataType
	}

	options, err := newSessionOptions(rt)
	if err != nil {
		return nil, fmt.Errorf("%w: session options: %v", ErrConfigError, err)
	}
	defer options.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil, fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	logger.Info("ONNX Runtime session ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames),
		zap.Int("intra_op_threads", rt.IntraOpThreads),
		zap.Int("inter_op_threads", rt.InterOpThreads),
		zap.Int("optimization_level", rt.OptimizationLevel))

	return &OnnxSession{
		session:     sess,
		inputs:      inputs,
		outputNames: outputNames,
		outputTypes: outputTypes,
		logger:      logger,
	}, nil
}

func newSessionOptions(rt ResolvedRuntime) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if err := options.SetIntraOpNumThreads(rt.IntraOpThreads); err != nil {
		options.Destroy()
		return nil, err
	}
	if rt.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(rt.InterOpThreads); err != nil {
			options.Destroy()
			return nil, err
		}
		if rt.ParallelExecution {
			if err := options.SetExecutionMode(ort.ExecutionModeParallel); err != nil {
				options.Destroy()
				return nil, err
			}
		}
	}
	if err := options.SetGraphOptimizationLevel(graphOptimizationLevel(rt.OptimizationLevel)); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func graphOptimizationLevel(level int) ort.GraphOptimizationLevel {
	switch level {
	case 0:
		return ort.GraphOptimizationLevelDisableAll
	case 1:
		return ort.GraphOptimizationLevelEnableBasic
	case 2:
		return ort.GraphOptimizationLevelEnableExtended
	default:
		return ort.GraphOptimizationLevelEnableAll
	}
}

// Inputs returns the declared model inputs.
func (s *OnnxSession) Inputs() []InputSpec {
	return s.inputs
}

// Run converts inputs to ORT values, runs the graph, and copies every float
// output back into Go memory.
func (s *OnnxSession) Run(ctx context.Context, inputs []*Tensor) ([]OutputTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, ErrModelNotLoaded
	}
	if len(inputs) != len(s.inputs) {
		return nil, fmt.Errorf("%w: got %d inputs, model declares %d", ErrInvalidInput, len(inputs), len(s.inputs))
	}

	values := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()
	for _, t := range inputs {
		v, err := toOrtValue(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", t.Name, err)
		}
		values = append(values, v)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := make([]ort.Value, len(s.outputNames))
	if err := s.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	results := make([]OutputTensor, 0, len(outputs))
	for i, o := range outputs {
		if o == nil {
			continue
		}
		data, ok, err := floatData(o, s.outputTypes[i])
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s.outputNames[i], err)
		}
		if !ok {
			// Non-float outputs can never be the embedding.
			s.logger.Debug("Skipping non-float output", zap.String("output", s.outputNames[i]))
			continue
		}
		results = append(results, OutputTensor{
			Name:  s.outputNames[i],
			Shape: append([]int64(nil), o.GetShape()...),
			Data:  data,
		})
	}
	return results, nil
}

// Close releases the session and, for the last session, the ORT environment.
func (s *OnnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	releaseEnvironment()
	return err
}

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return err
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs <= 0 {
		envRefs = 0
		ort.DestroyEnvironment()
	}
}

func toOrtValue(t *Tensor) (ort.Value, error) {
	// ORT rejects an empty Shape on tensors; rank-0 inputs go through NewScalar.
	if t.IsScalar() {
		return toOrtScalar(t)
	}
	shape := ort.NewShape(t.Shape...)
	switch d := t.Data.(type) {
	case []int64:
		return newOrtTensor(shape, d)
	case []int32:
		return newOrtTensor(shape, d)
	case []int16:
		return newOrtTensor(shape, d)
	case []int8:
		return newOrtTensor(shape, d)
	case []uint64:
		return newOrtTensor(shape, d)
	case []uint32:
		return newOrtTensor(shape, d)
	case []uint8:
		return newOrtTensor(shape, d)
	case []float32:
		return newOrtTensor(shape, d)
	case []float64:
		return newOrtTensor(shape, d)
	case []uint16:
		switch t.ElementType {
		case ElementFloat16:
			return newCustomTensor(shape, t, ort.TensorElementDataTypeFloat16, 2)
		case ElementBFloat16:
			return newCustomTensor(shape, t, ort.TensorElementDataTypeBFloat16, 2)
		}
		return newOrtTensor(shape, d)
	case []bool:
		return newCustomTensor(shape, t, ort.TensorElementDataTypeBool, 1)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, t.ElementType)
}

func toOrtScalar(t *Tensor) (ort.Value, error) {
	if t.Len() != 1 {
		return nil, fmt.Errorf("%w: scalar %q holds %d values", ErrInvalidShape, t.Name, t.Len())
	}
	switch d := t.Data.(type) {
	case []int64:
		return newOrtScalar(d[0])
	case []int32:
		return newOrtScalar(d[0])
	case []int16:
		return newOrtScalar(d[0])
	case []int8:
		return newOrtScalar(d[0])
	case []uint64:
		return newOrtScalar(d[0])
	case []uint32:
		return newOrtScalar(d[0])
	case []uint8:
		return newOrtScalar(d[0])
	case []float32:
		return newOrtScalar(d[0])
	case []float64:
		return newOrtScalar(d[0])
	case []uint16:
		if t.ElementType == ElementUint16 {
			return newOrtScalar(d[0])
		}
	}
	return nil, fmt.Errorf("%w: scalar %s", ErrUnsupportedDtype, t.ElementType)
}

func newOrtScalar[T ort.TensorData](v T) (ort.Value, error) {
	s, err := ort.NewScalar(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newOrtTensor backs zero-element tensors with one element, since ORT needs a
// non-nil data pointer even when the shape has a zero axis.
func newOrtTensor[T ort.TensorData](shape ort.Shape, data []T) (ort.Value, error) {
	if len(data) == 0 {
		data = make([]T, 1)
	}
	t, err := ort.NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newCustomTensor(shape ort.Shape, t *Tensor, dtype ort.TensorElementDataType, width int) (ort.Value, error) {
	raw, err := t.RawBytes()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		raw = make([]byte, width)
	}
	ct, err := ort.NewCustomDataTensor(shape, raw, dtype)
	if err != nil {
		return nil, err
	}
	return ct, nil
}

// floatData copies a float output into a []float32. ok is false for
// non-float outputs.
func floatData(v ort.Value, dtype ort.TensorElementDataType) ([]float32, bool, error) {
	switch o := v.(type) {
	case *ort.Tensor[float32]:
		return append([]float32(nil), o.GetData()...), true, nil
	case *ort.Tensor[float64]:
		return convert(o.GetData(), func(x float64) float32 { return float32(x) }), true, nil
	case *ort.CustomDataTensor:
		raw := o.GetData()
		switch dtype {
		case ort.TensorElementDataTypeFloat16:
			return decodeHalf(raw, func(bits uint16) float32 { return float16.Frombits(bits).Float32() }), true, nil
		case ort.TensorElementDataTypeBFloat16:
			return decodeHalf(raw, func(bits uint16) float32 { return math.Float32frombits(uint32(bits) << 16) }), true, nil
		}
		return nil, false, nil
	}
	return nil, false, nil
}

func decodeHalf(raw []byte, fn func(uint16) float32) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = fn(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}

func fromOrtType(t ort.TensorElementDataType) ElementType {
	switch t {
	case ort.TensorElementDataTypeInt8:
		return ElementInt8
	case ort.TensorElementDataTypeInt16:
		return ElementInt16
	case ort.TensorElementDataTypeInt32:
		return ElementInt32
	case ort.TensorElementDataTypeInt64:
		return ElementInt64
	case ort.TensorElementDataTypeUint8:
		return ElementUint8
	case ort.TensorElementDataTypeUint16:
		return ElementUint16
	case ort.TensorElementDataTypeUint32:
		return ElementUint32
	case ort.TensorElementDataTypeUint64:
		return ElementUint64
	case ort.TensorElementDataTypeBool:
		return ElementBool
	case ort.TensorElementDataTypeFloat16:
		return ElementFloat16
	case ort.TensorElementDataTypeBFloat16:
		return ElementBFloat16
	case ort.TensorElementDataTypeFloat:
		return ElementFloat32
	case ort.TensorElementDataTypeDouble:
		return ElementFloat64
	case ort.TensorElementDataTypeString:
		return ElementString
	}
	return ElementUndefined
}
