package inference

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

const testTokenizerJSON = `{
	"model": {
		"type": "BPE",
		"vocab": {"<s>":0,"</s>":1,"<unk>":2,"a":3,"b":4,"c":5,"d":6,"e":7,"f":8,"g":9,"H":10,"i":11,"l":12,"o":13},
		"merges": [],
		"unk_token": "<unk>"
	},
	"added_tokens": [
		{"id":0,"content":"<s>","special":true},
		{"id":1,"content":"</s>","special":true}
	]
}`

const endID = 1

type fakeExecutor struct {
	eng    *fakeEngine
	kind   backend.Kind
	steps  int
	inputs [][]int64
	valids []int
	pasts  []int
	closed int
}

func (x *fakeExecutor) InputShape() []int64 { return []int64{1, int64(x.eng.inputLen)} }

func (x *fakeExecutor) Step(input []int64, past, valid int) (int, error) {
	x.eng.mu.Lock()
	defer x.eng.mu.Unlock()
	n := x.steps
	x.steps++
	x.inputs = append(x.inputs, append([]int64(nil), input...))
	x.valids = append(x.valids, valid)
	x.pasts = append(x.pasts, past)
	if x.eng.panicAt >= 0 && n == x.eng.panicAt {
		panic("kernel fault")
	}
	if x.eng.failAt >= 0 && n == x.eng.failAt {
		return 0, errors.New("backend fault")
	}
	return x.eng.script[n%len(x.eng.script)], nil
}

func (x *fakeExecutor) Close() error {
	x.eng.mu.Lock()
	defer x.eng.mu.Unlock()
	x.closed++
	return nil
}

type fakeEngine struct {
	mu       sync.Mutex
	has      map[backend.Kind]bool
	fail     map[backend.Kind]error
	script   []int
	failAt   int
	panicAt  int
	inputLen int
	built    []*fakeExecutor
	attempts []backend.Kind
}

func newFakeEngine(script ...int) *fakeEngine {
	return &fakeEngine{
		has:      map[backend.Kind]bool{},
		fail:     map[backend.Kind]error{},
		script:   script,
		failAt:   -1,
		panicAt:  -1,
		inputLen: 16,
	}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Has(kind backend.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return kind == backend.CPU || e.has[kind]
}

func (e *fakeEngine) build(kind backend.Kind, model []byte) (backend.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = append(e.attempts, kind)
	if len(model) == 0 {
		return nil, errors.New("no model bytes")
	}
	if err := e.fail[kind]; err != nil {
		return nil, err
	}
	x := &fakeExecutor{eng: e, kind: kind}
	e.built = append(e.built, x)
	return x, nil
}

func (e *fakeEngine) CPU(model []byte, threads int) (backend.Executor, error) {
	return e.build(backend.CPU, model)
}

func (e *fakeEngine) GPU(model []byte, deviceID int) (backend.Executor, error) {
	return e.build(backend.GPU, model)
}

func (e *fakeEngine) NPU(model []byte, device string) (backend.Executor, error) {
	return e.build(backend.NPU, model)
}

// allClosed reports whether every executor built so far was closed once.
func (e *fakeEngine) allClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, x := range e.built {
		if x.closed != 1 {
			return false
		}
	}
	return true
}

func (e *fakeEngine) executors() []*fakeExecutor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeExecutor(nil), e.built...)
}

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	sessions []Report
	probes   []Classification
}

func (o *recordingObserver) SessionStarted(string, string) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) SessionFinished(r Report) {
	o.mu.Lock()
	o.sessions = append(o.sessions, r)
	o.mu.Unlock()
}

func (o *recordingObserver) ProbeFinished(c Classification) {
	o.mu.Lock()
	o.probes = append(o.probes, c)
	o.mu.Unlock()
}

type fixture struct {
	engine    *fakeEngine
	loader    *Loader
	observer  *recordingObserver
	modelPath string
	tokPath   string
}

func onnxBytes() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 8)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	return protowire.AppendBytes(b, make([]byte, 32))
}

func newFixture(t *testing.T, engine *fakeEngine) *fixture {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tiny.onnx")
	if err := os.WriteFile(modelPath, onnxBytes(), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	tokPath := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(tokPath, []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	obs := &recordingObserver{}
	return &fixture{
		engine:   engine,
		observer: obs,
		loader: &Loader{
			Selector: backend.NewSelector(engine, backend.Options{}, logger.Discard()),
			Files:    modelfile.NewRegistry(),
			Observer: obs,
			Log:      logger.Discard(),
		},
		modelPath: modelPath,
		tokPath:   tokPath,
	}
}

func (f *fixture) request(prompt string, maxNew int) Request {
	return Request{
		ModelPath:     f.modelPath,
		TokenizerPath: f.tokPath,
		Accelerator:   backend.CPU,
		Settings:      model.Settings{Temperature: 0.8, TopK: 40, MaxNewTokens: maxNew},
		Prompt:        prompt,
	}
}

// collect drains a session and returns its fragments and terminal error.
func collect(t *testing.T, s *Session) ([]string, error) {
	t.Helper()
	var (
		frags []string
		last  error
	)
	for frag, err := range s.Stream(t.Context()) {
		if err != nil {
			last = err
			continue
		}
		frags = append(frags, frag)
	}
	return frags, last
}

func f64Settings(temp float64, topK, maxNew int) model.Settings {
	return model.Settings{Temperature: temp, TopK: topK, MaxNewTokens: maxNew}
}
