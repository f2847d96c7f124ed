package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
)

// Runner runs one incident through the pipeline
type Runner interface {
	Run(ctx context.Context, inc model.Incident) (*pipeline.Result, error)
}

// Input is one incident and where it came from
type Input struct {
	Source   string
	Incident model.Incident
}

// IncidentJob runs a single incident
type IncidentJob struct {
	Input  Input
	Runner Runner
}

// Execute runs the incident
func (j *IncidentJob) Execute(ctx context.Context) Result {
	start := time.Now()
	res, err := j.Runner.Run(ctx, j.Input.Incident)
	return &RunResult{
		Source:   j.Input.Source,
		Result:   res,
		Error:    err,
		Duration: time.Since(start),
	}
}

// RunResult is the outcome of one incident in a batch. Result may be set
// even when Error is, holding the partial output of a failed run.
type RunResult struct {
	Source   string
	Result   *pipeline.Result
	Error    error
	Duration time.Duration
}

// GetError returns the error from the run
func (r *RunResult) GetError() error {
	return r.Error
}

// BatchProcessor runs many incidents concurrently. Runs share only the
// read-only engine, so they are independent.
type BatchProcessor struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int, logger *zap.Logger) *BatchProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessIncidents runs every input and returns results in input order
func (b *BatchProcessor) ProcessIncidents(ctx context.Context, inputs []Input) []*RunResult {
	if len(inputs) == 0 {
		return []*RunResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, in := range inputs {
		if err := pool.Submit(&IncidentJob{Input: in, Runner: b.runner}); err != nil {
			b.logger.Warn("batch stopped submitting", zap.String("source", in.Source), zap.Error(err))
			break
		}
	}

	results := pool.Wait()
	out := make([]*RunResult, len(results))
	for i, r := range results {
		rr := r.(*RunResult)
		out[i] = rr
		if rr.Error != nil {
			b.logger.Warn("incident failed", zap.String("source", rr.Source), zap.Error(rr.Error))
		} else if rr.Result != nil {
			b.logger.Info("incident done",
				zap.String("source", rr.Source),
				zap.String("state", string(rr.Result.State)),
				zap.Duration("duration", rr.Duration))
		}
	}
	return out
}

// ProcessFiles loads incidents from paths (files or directories) and runs
// them. Files that fail to load are reported as failed results.
func (b *BatchProcessor) ProcessFiles(ctx context.Context, paths []string) ([]*RunResult, error) {
	files, err := CollectFiles(paths)
	if err != nil {
		return nil, err
	}

	var inputs []Input
	var failed []*RunResult
	for _, f := range files {
		loaded, err := LoadIncidents(f)
		if err != nil {
			failed = append(failed, &RunResult{Source: f, Error: err})
			continue
		}
		inputs = append(inputs, loaded...)
	}

	return append(failed, b.ProcessIncidents(ctx, inputs)...), nil
}

// CollectFiles expands directories into the incident files they contain
// (.json, .yaml, .yml), keeping explicit file arguments as given
func CollectFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isIncidentFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return files, nil
}

func isIncidentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadIncidents reads one incident or a list of incidents from a JSON or
// YAML file. Unnamed incidents are named after the file.
func LoadIncidents(path string) ([]Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var incidents []model.Incident
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		incidents, err = decodeYAML(data)
	default:
		incidents, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	inputs := make([]Input, len(incidents))
	for i, inc := range incidents {
		source := path
		if len(incidents) > 1 {
			source = fmt.Sprintf("%s#%d", path, i)
		}
		if inc.Name == "" {
			inc.Name = base
			if len(incidents) > 1 {
				inc.Name = fmt.Sprintf("%s-%d", base, i)
			}
		}
		inputs[i] = Input{Source: source, Incident: inc}
	}
	return inputs, nil
}

func decodeJSON(data []byte) ([]model.Incident, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.Incident
		err := json.Unmarshal(trimmed, &list)
		return list, err
	}
	var one model.Incident
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []model.Incident{one}, nil
}

func decodeYAML(data []byte) ([]model.Incident, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var list []model.Incident
		err := root.Decode(&list)
		return list, err
	}
	var one model.Incident
	if err := root.Decode(&one); err != nil {
		return nil, err
	}
	return []model.Incident{one}, nil
}

// ReadManifest reads incident file paths from a file (one per line).
// Relative paths resolve against the manifest's directory.
func ReadManifest(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	dir := filepath.Dir(filePath)
	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(dir, line)
		}
		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return paths, nil
}
