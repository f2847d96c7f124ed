package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/disasterops/internal/embed"
	"github.com/ppiankov/disasterops/internal/llm"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
)

type mockRunner struct {
	fail  map[string]bool
	calls atomic.Int32
}

func (m *mockRunner) Run(ctx context.Context, inc model.Incident) (*pipeline.Result, error) {
	m.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if m.fail[inc.Name] {
		return nil, errors.New("run failed")
	}
	return &pipeline.Result{
		Output: &model.Output{Incident: inc.Name},
		State:  pipeline.StateDone,
	}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestBatchProcessor_ProcessIncidents(t *testing.T) {
	runner := &mockRunner{fail: map[string]bool{"b": true}}
	processor := NewBatchProcessor(runner, 2, nil)

	inputs := []Input{
		{Source: "a.json", Incident: model.Incident{Name: "a"}},
		{Source: "b.json", Incident: model.Incident{Name: "b"}},
		{Source: "c.json", Incident: model.Incident{Name: "c"}},
	}
	results := processor.ProcessIncidents(context.Background(), inputs)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Source != inputs[i].Source {
			t.Errorf("result %d: expected source %s, got %s", i, inputs[i].Source, res.Source)
		}
	}
	if results[0].Error != nil || results[0].Result.Output.Incident != "a" {
		t.Errorf("unexpected result for a: %+v", results[0])
	}
	if results[1].Error == nil {
		t.Error("expected error for b")
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockRunner{}, 2, nil)
	if results := processor.ProcessIncidents(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBatchProcessor_ProcessFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "flood.json", `{"hazards": ["flash flood"], "injuries": ["laceration"]}`)
	writeFile(t, dir, "multi.yaml", "- name: quake-1\n  hazards: [aftershock]\n- hazards: [gas leak]\n")
	writeFile(t, dir, "broken.json", `{"hazards": [`)
	writeFile(t, dir, "notes.txt", "ignored")

	runner := &mockRunner{}
	processor := NewBatchProcessor(runner, 3, nil)
	results, err := processor.ProcessFiles(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}

	if len(results) != 4 {
		t.Fatalf("expected 4 results (1 load failure + 3 runs), got %d", len(results))
	}
	if results[0].Error == nil || filepath.Base(results[0].Source) != "broken.json" {
		t.Errorf("expected broken.json load failure first, got %+v", results[0])
	}
	if got := runner.calls.Load(); got != 3 {
		t.Errorf("expected 3 runs, got %d", got)
	}
}

func TestLoadIncidents(t *testing.T) {
	dir := t.TempDir()

	single := writeFile(t, dir, "wildfire.json", `{"hazards": ["wildfire"], "weather": "high wind"}`)
	inputs, err := LoadIncidents(single)
	if err != nil {
		t.Fatalf("LoadIncidents: %v", err)
	}
	if len(inputs) != 1 || inputs[0].Incident.Name != "wildfire" || inputs[0].Incident.Weather != "high wind" {
		t.Errorf("unexpected inputs: %+v", inputs)
	}

	list := writeFile(t, dir, "pair.json", `[{"name": "x", "hazards": ["flood"]}, {"hazards": ["fire"]}]`)
	inputs, err = LoadIncidents(list)
	if err != nil {
		t.Fatalf("LoadIncidents: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(inputs))
	}
	if inputs[0].Incident.Name != "x" || inputs[1].Incident.Name != "pair-1" {
		t.Errorf("unexpected names: %q, %q", inputs[0].Incident.Name, inputs[1].Incident.Name)
	}
	if inputs[1].Source != list+"#1" {
		t.Errorf("unexpected source %q", inputs[1].Source)
	}

	yamlOne := writeFile(t, dir, "storm.yml", "hazards:\n  - storm surge\nevacuation: ordered\n")
	inputs, err = LoadIncidents(yamlOne)
	if err != nil {
		t.Fatalf("LoadIncidents: %v", err)
	}
	if inputs[0].Incident.Evacuation != "ordered" {
		t.Errorf("expected evacuation ordered, got %q", inputs[0].Incident.Evacuation)
	}
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "batch.txt", "# incidents\nflood.json\n\nflood.json\n/abs/quake.yaml\n")

	paths, err := ReadManifest(manifest)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", paths)
	}
	if paths[0] != filepath.Join(dir, "flood.json") || paths[1] != "/abs/quake.yaml" {
		t.Errorf("unexpected paths: %v", paths)
	}
}

type countingGenerator struct{ calls atomic.Int32 }

func (g *countingGenerator) Name() string { return "openai" }

func (g *countingGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.Generation, error) {
	g.calls.Add(1)
	return &llm.Generation{}, nil
}

func TestRateLimitedGenerator(t *testing.T) {
	inner := &countingGenerator{}
	limiter := NewLimiter(0.1, 1)
	g := NewRateLimitedGenerator(inner, limiter)

	if _, err := g.Generate(context.Background(), llm.GenerateRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, llm.GenerateRequest{}); err == nil {
		t.Error("expected throttled call to fail on deadline")
	}
	if inner.calls.Load() != 1 {
		t.Errorf("expected 1 inner call, got %d", inner.calls.Load())
	}
	if g.Name() != "openai" {
		t.Errorf("unexpected name %s", g.Name())
	}
}

func TestRateLimitedEmbedder(t *testing.T) {
	e := NewRateLimitedEmbedder(embed.NewHash(32), NewLimiter(0, 1))

	vecs, err := e.Embed(context.Background(), []string{"flash flood"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 32 || e.Dimension() != 32 {
		t.Errorf("unexpected vectors: %d", len(vecs))
	}
}
