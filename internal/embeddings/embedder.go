package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Embedder turns texts into vectors for one model family. It owns its session
// and tokenizer; calls to Embed on the same instance are serialized.
type Embedder struct {
	policy    FamilyPolicy
	session   Session
	tokenizer Tokenizer
	opts      Options
	inputs    []InputSpec
	logger    *zap.Logger
	stats     *ModelStats
	mu        sync.Mutex
}

// New wires an already loaded session and tokenizer into an Embedder.
func New(family Family, session Session, tokenizer Tokenizer, opts Options, logger *zap.Logger) (*Embedder, error) {
	policy, err := PolicyFor(family)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: nil session", ErrModelNotLoaded)
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("%w: nil tokenizer", ErrModelNotLoaded)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("family", string(family)))

	inputs := session.Inputs()
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	logger.Info("Embedder ready",
		zap.Strings("inputs", names),
		zap.String("pooling", policy.Pooling.String()),
		zap.Bool("normalize", policy.Normalize))

	return &Embedder{
		policy:    policy,
		session:   session,
		tokenizer: tokenizer,
		opts:      opts,
		inputs:    inputs,
		logger:    logger,
		stats: &ModelStats{
			Family:    string(family),
			StartTime: time.Now(),
		},
	}, nil
}

// Create loads the model and tokenizer from disk. A nil opts uses DefaultOptions.
func Create(family Family, modelPath, tokenizerPath string, opts *Options, logger *zap.Logger) (*Embedder, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tokenizer, err := NewTokenizer(tokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	session, err := NewSession(modelPath, o.Runtime, logger)
	if err != nil {
		tokenizer.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	e, err := New(family, session, tokenizer, o, logger)
	if err != nil {
		session.Close()
		tokenizer.Close()
		return nil, err
	}
	return e, nil
}

// Embed returns one vector per text. An empty input yields an empty result.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	vectors, tokens, err := e.embed(ctx, texts)
	e.updateStats(len(texts), tokens, vectors, time.Since(start), err)
	if err != nil {
		e.logger.Debug("Embed failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("Embed completed",
		zap.Int("texts", len(texts)),
		zap.Int("tokens", tokens),
		zap.Duration("duration", time.Since(start)))
	return vectors, nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	if e.session == nil || e.tokenizer == nil {
		return nil, 0, fmt.Errorf("%w: embedder is closed", ErrModelNotLoaded)
	}
	encodings, err := e.tokenizer.EncodeBatch(texts, e.opts.AddSpecialTokens)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTokenizationFailed, err)
	}
	if len(encodings) != len(texts) {
		return nil, 0, fmt.Errorf("%w: got %d encodings for %d texts", ErrTokenizationFailed, len(encodings), len(texts))
	}
	padID, err := e.tokenizer.PadID()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: padding config: %v", ErrTokenizationFailed, err)
	}

	if err := CheckDeclaredBatch(e.inputs, len(encodings)); err != nil {
		return nil, 0, err
	}

	batch := NewBatch(encodings, padID)
	if batch.Empty() {
		out := make([][]float32, batch.Size)
		for i := range out {
			out[i] = []float32{}
		}
		return out, 0, nil
	}

	inputs, err := SynthesizeInputs(e.inputs, batch, SynthOptions{TaskID: e.opts.TaskID})
	if err != nil {
		return nil, batch.TotalTokens(), err
	}

	if err := ctx.Err(); err != nil {
		return nil, batch.TotalTokens(), err
	}
	outputs, err := e.session.Run(ctx, inputs)
	if err != nil {
		return nil, batch.TotalTokens(), fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	vectors, err := Pool(outputs, batch, e.policy)
	if err != nil {
		return nil, batch.TotalTokens(), err
	}
	return vectors, batch.TotalTokens(), nil
}

// EmbedQueries formats each text as a query before embedding it.
func (e *Embedder) EmbedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = e.policy.FormatQuery(q)
	}
	return e.Embed(ctx, texts)
}

// EmbedDocuments formats each text as a document before embedding it.
func (e *Embedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float32, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = e.policy.FormatDocument(d)
	}
	return e.Embed(ctx, texts)
}

// FormatQuery applies the family's query prefix.
func (e *Embedder) FormatQuery(text string) string {
	return e.policy.FormatQuery(text)
}

// FormatDocument applies the family's document prefix.
func (e *Embedder) FormatDocument(text string) string {
	return e.policy.FormatDocument(text)
}

// Family returns the model family the embedder was created for.
func (e *Embedder) Family() Family {
	return e.policy.Family
}

// Inputs returns the model's declared inputs.
func (e *Embedder) Inputs() []InputSpec {
	return append([]InputSpec(nil), e.inputs...)
}

// GetStats returns a snapshot of usage statistics.
func (e *Embedder) GetStats() *ModelStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := *e.stats
	return &stats
}

// Close releases the session and tokenizer.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("Closing embedder")
	var firstErr error
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			firstErr = err
		}
		e.session = nil
	}
	if e.tokenizer != nil {
		if err := e.tokenizer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.tokenizer = nil
	}
	return firstErr
}

// updateStats must be called with e.mu held.
func (e *Embedder) updateStats(texts, tokens int, vectors [][]float32, duration time.Duration, err error) {
	e.stats.TotalCalls++
	e.stats.TotalTexts += int64(texts)
	e.stats.TotalTokens += int64(tokens)
	e.stats.LastInferenceTime = time.Now()
	if err != nil {
		e.stats.FailedCalls++
		return
	}
	for _, v := range vectors {
		if len(v) > 0 {
			e.stats.HiddenSize = len(v)
			break
		}
	}

	ok := e.stats.TotalCalls - e.stats.FailedCalls
	total := time.Duration(ok-1)*e.stats.AvgInferenceTime + duration
	e.stats.AvgInferenceTime = total / time.Duration(ok)
}
