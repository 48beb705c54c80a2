// Package silero provides a Silero VAD backend running on ONNX Runtime.
//
// The model is recurrent. Every call consumes the previous call's hidden state
// plus the last few samples of the previous frame (the context window), and
// both are carried forward in an explicit [State] owned by the session. A
// session must be [Session.Reset] at the start of each capture stream.
//
// Each session owns its own ONNX Runtime session and pre-allocated tensors,
// so sessions can run on different goroutines without sharing memory.
package silero

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/dictum/pkg/provider/vad"
)

const (
	// stateSize is the flattened size of the [2, 1, 128] hidden state tensor.
	stateSize = 2 * 1 * 128

	inputName  = "input"
	stateName  = "state"
	rateName   = "sr"
	outputName = "output"
	stateNName = "stateN"
)

// contextSize returns the number of trailing samples carried between frames.
func contextSize(rate int) int {
	if rate == 8000 {
		return 32
	}
	return 64
}

// State is the recurrent state of one Silero stream. It is mutated in place
// by [Infer] and must never be shared between streams.
type State struct {
	// H is the model hidden state, shape [2, 1, 128].
	H []float32

	// Context holds the trailing samples of the previous input window.
	Context []float32
}

// NewState returns a zeroed state for the given sample rate.
func NewState(rate int) *State {
	return &State{
		H:       make([]float32, stateSize),
		Context: make([]float32, contextSize(rate)),
	}
}

// Reset zeroes the hidden state and context.
func (s *State) Reset() {
	clear(s.H)
	clear(s.Context)
}

// Runner executes one forward pass of the model. input is the context window
// followed by the frame; state is the current hidden state. It returns the
// speech probability and the next hidden state.
type Runner interface {
	Run(input, state []float32) (prob float32, next []float32, err error)
	Close() error
}

// Infer runs one step of the recurrence: it prepends st.Context to frame, runs
// the model, and stores the trailing samples and new hidden state back into st.
func Infer(r Runner, st *State, frame []float32) (float32, error) {
	input := make([]float32, 0, len(st.Context)+len(frame))
	input = append(input, st.Context...)
	input = append(input, frame...)

	prob, next, err := r.Run(input, st.H)
	if err != nil {
		return 0, err
	}
	if len(next) != len(st.H) {
		return 0, fmt.Errorf("silero: state size %d, want %d", len(next), len(st.H))
	}
	copy(st.H, next)
	copy(st.Context, input[len(input)-len(st.Context):])
	return prob, nil
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithLibraryPath sets the path of the onnxruntime shared library. When empty
// the library's default search path is used.
func WithLibraryPath(path string) Option {
	return func(e *Engine) { e.libPath = path }
}

// WithRunnerFactory replaces the ONNX Runtime runner, mainly for tests.
func WithRunnerFactory(f func(rate int) (Runner, error)) Option {
	return func(e *Engine) { e.newRunner = f }
}

// Engine creates Silero sessions from one model file.
type Engine struct {
	modelPath string
	libPath   string
	newRunner func(rate int) (Runner, error)

	envOnce sync.Once
	envErr  error
	ownsEnv bool
}

// New returns an Engine for the model at modelPath. Unless a runner factory is
// supplied, the model file must exist and ONNX Runtime must initialize; an
// error here means the caller should fall back to the amplitude backend.
func New(modelPath string, opts ...Option) (*Engine, error) {
	e := &Engine{modelPath: modelPath}
	for _, o := range opts {
		o(e)
	}
	if e.newRunner != nil {
		return e, nil
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model: %w", err)
	}
	if err := e.initEnv(); err != nil {
		return nil, err
	}
	e.newRunner = e.newONNXRunner
	return e, nil
}

func (e *Engine) initEnv() error {
	e.envOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if e.libPath != "" {
			ort.SetSharedLibraryPath(e.libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			e.envErr = fmt.Errorf("silero: initialize onnxruntime: %w", err)
			return
		}
		e.ownsEnv = true
	})
	return e.envErr
}

// Name implements [vad.Engine].
func (*Engine) Name() string { return "silero" }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	size := vad.FrameSize(cfg.SampleRate)
	if size == 0 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d", cfg.SampleRate)
	}
	r, err := e.newRunner(cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("silero: new session: %w", err)
	}
	return &Session{runner: r, state: NewState(cfg.SampleRate), size: size}, nil
}

// Close tears down the ONNX Runtime environment if this engine created it.
func (e *Engine) Close() error {
	if !e.ownsEnv {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("silero: destroy environment: %w", err)
	}
	return nil
}

// Session is one Silero stream. Not safe for concurrent use.
type Session struct {
	runner Runner
	state  *State
	size   int
	closed bool
}

// Process implements [vad.Session].
func (s *Session) Process(frame []float32) (float32, error) {
	if s.closed {
		return 0, vad.ErrClosed
	}
	if err := vad.CheckFrame(frame, s.size); err != nil {
		return 0, err
	}
	return Infer(s.runner, s.state, frame)
}

// FrameSize implements [vad.Session].
func (s *Session) FrameSize() int { return s.size }

// Reset implements [vad.Session].
func (s *Session) Reset() { s.state.Reset() }

// Close implements [vad.Session].
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.runner.Close()
}

// onnxRunner binds pre-allocated tensors to one ONNX Runtime session.
type onnxRunner struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	state   *ort.Tensor[float32]
	rate    *ort.Tensor[int64]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]
}

func (e *Engine) newONNXRunner(rate int) (Runner, error) {
	window := vad.FrameSize(rate) + contextSize(rate)
	r := &onnxRunner{}

	var err error
	if r.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(window))); err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	if r.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("state tensor: %w", err)
	}
	if r.rate, err = ort.NewTensor(ort.NewShape(1), []int64{int64(rate)}); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("sr tensor: %w", err)
	}
	if r.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	if r.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("stateN tensor: %w", err)
	}

	r.session, err = ort.NewAdvancedSession(e.modelPath,
		[]string{inputName, stateName, rateName},
		[]string{outputName, stateNName},
		[]ort.Value{r.input, r.state, r.rate},
		[]ort.Value{r.output, r.stateN},
		nil,
	)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("load model %q: %w", e.modelPath, err)
	}
	slog.Debug("silero: session created", "model", e.modelPath, "sample_rate", rate)
	return r, nil
}

func (r *onnxRunner) Run(input, state []float32) (float32, []float32, error) {
	copy(r.input.GetData(), input)
	copy(r.state.GetData(), state)
	if err := r.session.Run(); err != nil {
		return 0, nil, fmt.Errorf("silero: run: %w", err)
	}
	next := make([]float32, stateSize)
	copy(next, r.stateN.GetData())
	return r.output.GetData()[0], next, nil
}

func (r *onnxRunner) Close() error {
	var errs []error
	if r.session != nil {
		errs = append(errs, r.session.Destroy())
	}
	if r.input != nil {
		errs = append(errs, r.input.Destroy())
	}
	if r.state != nil {
		errs = append(errs, r.state.Destroy())
	}
	if r.rate != nil {
		errs = append(errs, r.rate.Destroy())
	}
	if r.output != nil {
		errs = append(errs, r.output.Destroy())
	}
	if r.stateN != nil {
		errs = append(errs, r.stateN.Destroy())
	}
	return errors.Join(errs...)
}

// Compile-time assertions.
var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
	_ Runner      = (*onnxRunner)(nil)
)
