package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Alby2007/PLTM-sub001/internal/config"
	"github.com/Alby2007/PLTM-sub001/internal/store"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// OllamaEmbedder calls a local Ollama server's /api/embed.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder returns an embedder for model. dims is advisory; 0 means
// whatever the model produces.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty result for model %s", o.model)
	}
	return out.Embeddings[0], nil
}

// OllamaReachable reports whether Ollama answers and the embedding model is
// available.
func OllamaReachable(ctx context.Context, url, model string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := NewOllamaEmbedder(url, model, 0).Embed(ctx, "ping")
	return err == nil
}

// TFIDFEmbedder generates TF-IDF bag-of-words embeddings from a fixed
// vocabulary. It needs no external service.
type TFIDFEmbedder struct {
	vocab    []string
	idf      map[string]float64
	model    string
	docs     int
	maxTerms int
}

// NewTFIDFEmbedder builds a vocabulary of the maxTerms most frequent terms
// across docs. The model name carries a hash of the vocabulary, so vectors
// built from a different corpus read as stale.
func NewTFIDFEmbedder(docs []string, maxTerms int) *TFIDFEmbedder {
	if maxTerms <= 0 {
		maxTerms = 512
	}

	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				df[term]++
				seen[term] = true
			}
		}
	}

	type termFreq struct {
		term string
		freq int
	}
	terms := make([]termFreq, 0, len(df))
	for t, f := range df {
		terms = append(terms, termFreq{t, f})
	}
	// Ties broken by term so the vocabulary is deterministic.
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].freq != terms[j].freq {
			return terms[i].freq > terms[j].freq
		}
		return terms[i].term < terms[j].term
	})
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}

	numDocs := float64(len(docs))
	if numDocs == 0 {
		numDocs = 1
	}
	t := &TFIDFEmbedder{
		vocab:    make([]string, len(terms)),
		idf:      make(map[string]float64, len(terms)),
		docs:     len(docs),
		maxTerms: maxTerms,
	}
	h := sha256.New()
	for i, tf := range terms {
		t.vocab[i] = tf.term
		// Smoothed: log(N/df) + 1.
		t.idf[tf.term] = math.Log(numDocs/float64(tf.freq)) + 1.0
		h.Write([]byte(tf.term))
		h.Write([]byte{0})
	}
	t.model = "tfidf:" + hex.EncodeToString(h.Sum(nil))[:12]
	return t
}

func (t *TFIDFEmbedder) Model() string   { return t.model }
func (t *TFIDFEmbedder) Dimensions() int { return len(t.vocab) }

// Corpus is the number of documents the vocabulary was built from.
func (t *TFIDFEmbedder) Corpus() int { return t.docs }

// Embed generates a TF-IDF vector for the given text. Text with no
// vocabulary terms yields a zero vector.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	tf := make(map[string]int)
	maxTF := 0
	for _, tok := range tokenize(text) {
		tf[tok]++
		if tf[tok] > maxTF {
			maxTF = tf[tok]
		}
	}

	vec := make([]float64, len(t.vocab))
	for i, term := range t.vocab {
		count := tf[term]
		if count == 0 {
			continue
		}
		// Augmented TF to prevent bias towards longer documents.
		vec[i] = (0.5 + 0.5*float64(count)/float64(maxTF)) * t.idf[term]
	}
	return vec, nil
}

// NewEmbedder picks the embedding provider named by cfg.Index.Embedder:
// "ollama", "tfidf", "none", or "auto" (Ollama when reachable, else TF-IDF
// over the current corpus). A nil Embedder means semantic search is off.
func NewEmbedder(ctx context.Context, cfg config.Config, db *store.DB, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Index.Embedder {
	case "none":
		return nil, nil
	case "ollama":
		return NewOllamaEmbedder(cfg.LLM.OllamaURL, cfg.LLM.EmbeddingModel, 0), nil
	case "tfidf":
		return corpusTFIDF(ctx, db)
	case "", "auto":
		if OllamaReachable(ctx, cfg.LLM.OllamaURL, cfg.LLM.EmbeddingModel) {
			logger.Info("using ollama embeddings", zap.String("model", cfg.LLM.EmbeddingModel))
			return NewOllamaEmbedder(cfg.LLM.OllamaURL, cfg.LLM.EmbeddingModel, 0), nil
		}
		emb, err := corpusTFIDF(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Info("ollama unreachable, using tfidf embeddings",
			zap.String("model", emb.Model()), zap.Int("dimensions", emb.Dimensions()))
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Index.Embedder)
	}
}

func corpusTFIDF(ctx context.Context, db *store.DB) (Embedder, error) {
	var docs []string
	for _, kind := range []string{store.KindMemory, store.KindAtom} {
		srcs, err := db.IndexSources(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("tfidf corpus: %w", err)
		}
		for _, s := range srcs {
			docs = append(docs, embeddingText(s))
		}
	}
	return NewTFIDFEmbedder(docs, 512), nil
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit, hyphen or underscore. Single-rune tokens are dropped.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// normalize performs in-place L2 normalization. It reports false for a
// zero or non-finite vector, which cannot be made unit length.
func normalize(vec []float64) bool {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return false
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return true
}

// dot is the similarity of two unit vectors. Mismatched lengths score 0.
func dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
