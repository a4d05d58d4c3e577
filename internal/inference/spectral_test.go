package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/onboard-cloud-filter/model"
)

const testDescriptor = `name: test-model
input: {height: 2, width: 3, channels: 4}
weights: [0, 0, 0, 20]
bias: -10
`

func writeDescriptor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func tensor(h, w int, nir func(i int) float32) model.InferenceTensor {
	data := make([]float32, h*w*4)
	for i := 0; i < h*w; i++ {
		data[i*4+3] = nir(i)
	}
	return model.InferenceTensor{Height: h, Width: w, Data: data}
}

func TestLoadMissingModel(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("Load error = %v, want ErrModelUnavailable", err)
	}
}

func TestLoadInvalidModel(t *testing.T) {
	for name, body := range map[string]string{
		"not yaml":      "::::",
		"three weights": "name: x\ninput: {height: 2, width: 2, channels: 4}\nweights: [1, 2, 3]\n",
		"zero shape":    "name: x\ninput: {height: 0, width: 2, channels: 4}\nweights: [1, 2, 3, 4]\n",
		"rgb input":     "name: x\ninput: {height: 2, width: 2, channels: 3}\nweights: [1, 2, 3, 4]\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeDescriptor(t, body)); !errors.Is(err, ErrModelUnavailable) {
				t.Fatalf("Load error = %v, want ErrModelUnavailable", err)
			}
		})
	}
}

func TestSpectralEngineScoresBrightNIRAsCloud(t *testing.T) {
	engine, err := Load(writeDescriptor(t, testDescriptor))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if engine.Name() != "test-model" {
		t.Fatalf("Name = %q, want test-model", engine.Name())
	}

	// Pixels 0-2 dark, 3-5 bright in NIR.
	in := tensor(2, 3, func(i int) float32 {
		if i >= 3 {
			return 1
		}
		return 0
	})
	cm, err := engine.Infer(context.Background(), in)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if cm.Height != 2 || cm.Width != 3 || len(cm.Prob) != 6 {
		t.Fatalf("coverage shape = %dx%d (%d), want 2x3", cm.Height, cm.Width, len(cm.Prob))
	}
	for i, p := range cm.Prob {
		if p < 0 || p > 1 {
			t.Fatalf("prob[%d] = %v outside [0,1]", i, p)
		}
		if cloudy := p > 0.5; cloudy != (i >= 3) {
			t.Fatalf("prob[%d] = %v, cloudy=%v", i, p, cloudy)
		}
	}
}

func TestSpectralEngineRejectsWrongShape(t *testing.T) {
	engine, err := Load(writeDescriptor(t, testDescriptor))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = engine.Infer(context.Background(), tensor(3, 3, func(int) float32 { return 0 }))
	if !errors.Is(err, ErrInputShape) {
		t.Fatalf("Infer error = %v, want ErrInputShape", err)
	}
}

func TestEngineFuncAcceptsAnyShape(t *testing.T) {
	e := EngineFunc{Fn: func(_ context.Context, in model.InferenceTensor) (model.CoverageMap, error) {
		return model.CoverageMap{Height: in.Height, Width: in.Width, Prob: make([]float32, in.Height*in.Width)}, nil
	}}
	if err := CheckShape(e.InputShape(), tensor(5, 7, func(int) float32 { return 0 })); err != nil {
		t.Fatalf("CheckShape with zero shape: %v", err)
	}
}

func TestCheckCoverage(t *testing.T) {
	in := tensor(2, 3, func(int) float32 { return 0 })
	ok := model.CoverageMap{Height: 2, Width: 3, Prob: make([]float32, 6)}
	if err := CheckCoverage(in, ok); err != nil {
		t.Fatalf("CheckCoverage(matching) = %v, want nil", err)
	}
	for name, cm := range map[string]model.CoverageMap{
		"transposed": {Height: 3, Width: 2, Prob: make([]float32, 6)},
		"short":      {Height: 2, Width: 3, Prob: make([]float32, 5)},
		"empty":      {},
	} {
		if err := CheckCoverage(in, cm); !errors.Is(err, ErrOutputShape) {
			t.Fatalf("CheckCoverage(%s) = %v, want ErrOutputShape", name, err)
		}
	}
}
