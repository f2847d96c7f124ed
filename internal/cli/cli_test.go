package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/disasterops/internal/corpus"
	"github.com/ppiankov/disasterops/internal/model"
	"github.com/ppiankov/disasterops/internal/pipeline"
	"github.com/ppiankov/disasterops/internal/retrieve"
	"github.com/ppiankov/disasterops/internal/worker"
)

const chunksJSONL = `{"chunk_id":"fema-1","text":"Move to higher ground during flash flooding and avoid moving water.","source_doc":"fema-flood.pdf","section":"Evacuation","page":3}
{"chunk_id":"redcross-2","text":"During a flash flood move to higher ground and never drive through flooded roads.","source_doc":"redcross-flood.pdf","section":"Safety","page":1}
{"citation_id":"who-1","text":"Apply firm direct pressure to a bleeding wound.","source_file":"who-first-aid.pdf","section_title":"Bleeding","start_page":7}
`

func envViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DISASTEROPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadConfigFrom_Defaults(t *testing.T) {
	cfg, err := loadConfigFrom(envViper())
	if err != nil {
		t.Fatalf("loadConfigFrom: %v", err)
	}
	if cfg.Retrieval.TopK != 5 || cfg.Retrieval.Fusion != model.FusionRRF {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.LLM.Timeout)
	}
}

func TestLoadConfigFrom_EnvOverrides(t *testing.T) {
	t.Setenv("DISASTEROPS_RETRIEVAL_TOP_K", "7")
	t.Setenv("DISASTEROPS_RETRIEVAL_FUSION", "weighted")
	t.Setenv("DISASTEROPS_LLM_TIMEOUT", "45s")
	t.Setenv("DISASTEROPS_VERIFICATION_GROUNDING_THRESHOLD", "0.7")

	cfg, err := loadConfigFrom(envViper())
	if err != nil {
		t.Fatalf("loadConfigFrom: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("expected top_k 7, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.Fusion != model.FusionWeighted {
		t.Errorf("expected weighted fusion, got %s", cfg.Retrieval.Fusion)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.LLM.Timeout)
	}
	if cfg.Verification.GroundingThreshold != 0.7 {
		t.Errorf("expected threshold 0.7, got %v", cfg.Verification.GroundingThreshold)
	}
}

func TestLoadConfigFrom_RejectsInvalid(t *testing.T) {
	t.Setenv("DISASTEROPS_RETRIEVAL_ALPHA", "1.5")

	_, err := loadConfigFrom(envViper())
	if !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestWriteDefaultConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".disasterops", "config.yaml")
	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig: %v", err)
	}
	if err := writeDefaultConfig(path); err == nil {
		t.Error("expected error when config already exists")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	cfg, err := loadConfigFrom(v)
	if err != nil {
		t.Fatalf("loadConfigFrom: %v", err)
	}

	want := model.DefaultConfig()
	if cfg.Retrieval != want.Retrieval {
		t.Errorf("retrieval mismatch:\n got  %+v\n want %+v", cfg.Retrieval, want.Retrieval)
	}
	if cfg.LLM.BackoffMax != want.LLM.BackoffMax {
		t.Errorf("expected backoff_max %v, got %v", want.LLM.BackoffMax, cfg.LLM.BackoffMax)
	}
}

func TestApplyKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.Embedding.Provider = "ollama"
	applyKeyEnv(cfg)

	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("expected OpenAI key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Embedding.BaseURL != "http://ollama:11434" {
		t.Errorf("expected Ollama URL from env, got %q", cfg.Embedding.BaseURL)
	}

	cfg.LLM.APIKey = "explicit"
	applyKeyEnv(cfg)
	if cfg.LLM.APIKey != "explicit" {
		t.Errorf("explicit key should win, got %q", cfg.LLM.APIKey)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Urban Flooding":       "Urban-Flooding",
		"incidents/flood.yaml": "flood",
		"a:b*c?":               "a_b_c_",
		"list.json#2":          "list.json-2",
		"":                     "incident",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeFilename(strings.Repeat("x", 150)); len(got) != 100 {
		t.Errorf("expected 100 chars, got %d", len(got))
	}
}

func TestUniqueSlug(t *testing.T) {
	used := map[string]int{}
	got := []string{uniqueSlug("flood", used), uniqueSlug("flood", used), uniqueSlug("fire", used)}
	want := []string{"flood", "flood-2", "fire"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("uniqueSlug #%d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIndexedPath(t *testing.T) {
	if got := indexedPath("out/report.json", 1); got != "out/report-2.json" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestCorpusFlagsApply(t *testing.T) {
	cfg := model.DefaultConfig()
	corpusFlags{chunks: "c.jsonl", db: "x.db"}.apply(cfg)
	if cfg.Corpus.ChunksPath != "c.jsonl" || cfg.Corpus.SQLitePath != "x.db" {
		t.Errorf("flags not applied: %+v", cfg.Corpus)
	}
}

func TestLoadCorpus_NothingConfigured(t *testing.T) {
	_, err := loadCorpus(model.DefaultConfig())
	if !errors.Is(err, errNoCorpus) {
		t.Fatalf("expected errNoCorpus, got %v", err)
	}
}

func TestLoadCorpus_MissingSnapshotIsUnavailable(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Corpus.SQLitePath = filepath.Join(t.TempDir(), "corpsu.db")

	_, err := loadCorpus(cfg)
	if !errors.Is(err, retrieve.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if !errors.Is(err, corpus.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound in chain, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Corpus.SQLitePath); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("snapshot file was created: %v", statErr)
	}
}

// testSession builds a session over a temp chunk file with the offline embedder
func testSession(t *testing.T) *session {
	t.Helper()
	dir := t.TempDir()
	chunks := filepath.Join(dir, "chunks.jsonl")
	if err := os.WriteFile(chunks, []byte(chunksJSONL), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := model.DefaultConfig()
	cfg.Corpus.ChunksPath = chunks
	cfg.Cache.DiskDir = filepath.Join(dir, "cache")

	limiter := worker.NewLimiter(0, 0)
	e, err := buildEmbedder(cfg, limiter)
	if err != nil {
		t.Fatalf("buildEmbedder: %v", err)
	}
	return &session{cfg: cfg, logger: zap.NewNop(), limiter: limiter, embedder: e}
}

func TestSnapshotBuildAndReload(t *testing.T) {
	ctx := context.Background()
	s := testSession(t)

	snap, err := buildSnapshot(ctx, s, 2)
	if err != nil {
		t.Fatalf("buildSnapshot: %v", err)
	}
	if len(snap.Chunks) != 3 || len(snap.Vectors) != 3 {
		t.Fatalf("expected 3 chunks and vectors, got %d/%d", len(snap.Chunks), len(snap.Vectors))
	}
	if snap.Embedder != s.embedder.Name() {
		t.Errorf("snapshot embedder %q, want %q", snap.Embedder, s.embedder.Name())
	}

	db := filepath.Join(t.TempDir(), "corpus.db")
	if err := corpus.SaveSQLite(db, snap); err != nil {
		t.Fatalf("SaveSQLite: %v", err)
	}

	s.cfg.Corpus.ChunksPath = ""
	s.cfg.Corpus.SQLitePath = db
	r, err := buildRetriever(ctx, s.cfg, s.embedder, s.logger)
	if err != nil {
		t.Fatalf("buildRetriever: %v", err)
	}

	results, err := r.Retrieve(ctx, model.Query{Topic: model.FacetHazards, Text: "flash flood higher ground"}, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results from snapshot index")
	}
	if results[0].ChunkID == "who-1" {
		t.Errorf("first-aid chunk should not lead a flood query: %+v", results)
	}

	got, err := r.Store().Get("who-1")
	if err != nil {
		t.Fatalf("legacy field names not loaded: %v", err)
	}
	if got.SourceDoc != "who-first-aid.pdf" || got.Page != 7 {
		t.Errorf("unexpected provenance: %+v", got)
	}
}

func TestSessionController_RunsIncident(t *testing.T) {
	ctx := context.Background()
	s := testSession(t)

	r, err := buildRetriever(ctx, s.cfg, s.embedder, s.logger)
	if err != nil {
		t.Fatalf("buildRetriever: %v", err)
	}
	s.retriever = r

	ctrl, err := s.controller()
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	res, err := ctrl.Run(ctx, model.Incident{
		Name:     "downtown flood",
		Hazards:  []string{"flash flood"},
		Injuries: []string{"person trapped in vehicle"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Output.HasEscalation {
		t.Error("trapped person should escalate")
	}
	if res.State != pipeline.StateEscalated {
		t.Errorf("expected escalated state, got %s", res.State)
	}
}

func TestBuildGenerator_OfflineIsNotThrottled(t *testing.T) {
	cfg := model.DefaultConfig()
	g, err := buildGenerator(cfg, worker.NewLimiter(1, 1))
	if err != nil {
		t.Fatalf("buildGenerator: %v", err)
	}
	if g.Name() != "extractive" {
		t.Errorf("expected extractive generator, got %s", g.Name())
	}
	if _, throttled := g.(*worker.RateLimitedGenerator); throttled {
		t.Error("offline generator should not be rate limited")
	}
}
