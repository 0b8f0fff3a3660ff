package chat

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
	"github.com/samcharles93/aistudio/pkg/modelfile"
)

const testTokenizerJSON = `{
	"model": {"type": "BPE", "vocab": {"<s>":0,"</s>":1,"H":2,"i":3,"!":4}, "merges": []},
	"added_tokens": [{"id":0,"content":"<s>","special":true},{"id":1,"content":"</s>","special":true}]
}`

type scriptExecutor struct {
	eng   *scriptEngine
	steps int
}

func (x *scriptExecutor) InputShape() []int64 { return []int64{1, 32} }

func (x *scriptExecutor) Step([]int64, int, int) (int, error) {
	n := x.steps
	x.steps++
	return x.eng.script[n%len(x.eng.script)], nil
}

func (x *scriptExecutor) Close() error {
	x.eng.mu.Lock()
	x.eng.open--
	x.eng.mu.Unlock()
	return nil
}

type scriptEngine struct {
	mu     sync.Mutex
	script []int
	fail   bool
	open   int
	peak   int
}

func (e *scriptEngine) Name() string                              { return "script" }
func (e *scriptEngine) Has(k backend.Kind) bool                   { return k == backend.CPU }
func (e *scriptEngine) GPU([]byte, int) (backend.Executor, error) { return nil, errors.New("no gpu") }
func (e *scriptEngine) NPU([]byte, string) (backend.Executor, error) {
	return nil, errors.New("no npu")
}

func (e *scriptEngine) CPU([]byte, int) (backend.Executor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("cannot build")
	}
	e.open++
	e.peak = max(e.peak, e.open)
	return &scriptExecutor{eng: e}, nil
}

func (e *scriptEngine) live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

type fixedSettings model.Settings

func (s fixedSettings) Get() model.Settings { return model.Settings(s) }

// newChat returns a chat over a scripted engine and a selectable model.
func newChat(t *testing.T, eng *scriptEngine, maxNew int) (*Context, model.Descriptor) {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "tiny.onnx")
	if err := os.WriteFile(modelPath, []byte("graph"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	tokPath := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(tokPath, []byte(testTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}

	d := model.NewDescriptor("m1", "tiny.onnx", modelPath)
	if err := d.PairTokenizer(tokPath); err != nil {
		t.Fatalf("pair: %v", err)
	}
	if err := d.Classify(model.Supported, ""); err != nil {
		t.Fatalf("classify: %v", err)
	}

	settings := model.DefaultSettings()
	settings.MaxNewTokens = maxNew
	c := New(Config{
		Loader: &inference.Loader{
			Selector: backend.NewSelector(eng, backend.Options{}, logger.Discard()),
			Files:    modelfile.NewRegistry(),
			Log:      logger.Discard(),
		},
		Settings: fixedSettings(settings),
		Log:      logger.Discard(),
	})
	t.Cleanup(func() { _ = c.Close() })
	return c, d
}
