package embeddings

import (
	"fmt"
	"strings"
)

// Family identifies a supported embedding model family.
type Family string

const (
	FamilyBGE    Family = "bge"
	FamilyMiniLM Family = "minilm"
	FamilyJinaV3 Family = "jina_v3"
	FamilyGemma  Family = "gemma"
	FamilyQwen3  Family = "qwen3"
)

// PoolingStrategy reduces a per-token hidden state tensor to one vector per row.
type PoolingStrategy int

const (
	// PoolNone means the family only accepts an already pooled output.
	PoolNone PoolingStrategy = iota
	PoolCLS
	PoolMean
	PoolLastToken
)

func (p PoolingStrategy) String() string {
	switch p {
	case PoolCLS:
		return "cls"
	case PoolMean:
		return "mean"
	case PoolLastToken:
		return "last_token"
	default:
		return "none"
	}
}

// Output tensor names.
const (
	OutputLastHiddenState   = "last_hidden_state"
	OutputSentenceEmbedding = "sentence_embedding"
	OutputPooledOutput      = "pooled_output"
	OutputPoolerOutput      = "pooler_output"
	OutputEmbedding         = "embedding"
)

const qwen3Task = "Given a web search query, retrieve relevant passages that answer the query"

// FamilyPolicy is everything that differs between model families.
type FamilyPolicy struct {
	Family         Family
	QueryPrefix    string
	DocumentPrefix string
	// PooledOutputs is searched in order; the first present name wins.
	PooledOutputs []string
	// PreferPerToken checks last_hidden_state before PooledOutputs.
	PreferPerToken bool
	Pooling        PoolingStrategy
	// Normalize is false only for families whose contract returns raw vectors.
	Normalize bool
}

var policies = map[Family]FamilyPolicy{
	FamilyBGE: {
		Family:        FamilyBGE,
		QueryPrefix:   "Represent this sentence for searching relevant passages: ",
		PooledOutputs: []string{OutputSentenceEmbedding, OutputPooledOutput, OutputPoolerOutput, OutputEmbedding},
		Pooling:       PoolCLS,
		Normalize:     true,
	},
	FamilyMiniLM: {
		Family:         FamilyMiniLM,
		PooledOutputs:  []string{OutputSentenceEmbedding, OutputEmbedding, OutputPooledOutput, OutputPoolerOutput},
		PreferPerToken: true,
		Pooling:        PoolMean,
		Normalize:      true,
	},
	FamilyJinaV3: {
		Family:    FamilyJinaV3,
		Pooling:   PoolMean,
		Normalize: true,
	},
	FamilyGemma: {
		Family:         FamilyGemma,
		QueryPrefix:    "task: search result | query: ",
		DocumentPrefix: "title: none | text: ",
		PooledOutputs:  []string{OutputSentenceEmbedding},
		Pooling:        PoolNone,
		Normalize:      false,
	},
	FamilyQwen3: {
		Family:        FamilyQwen3,
		QueryPrefix:   "Instruct: " + qwen3Task + "\nQuery:",
		PooledOutputs: []string{OutputSentenceEmbedding, OutputPooledOutput, OutputEmbedding},
		Pooling:       PoolLastToken,
		Normalize:     true,
	},
}

// Families returns every supported family.
func Families() []Family {
	return []Family{FamilyBGE, FamilyMiniLM, FamilyJinaV3, FamilyGemma, FamilyQwen3}
}

// ParseFamily maps a config string onto a Family.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bge":
		return FamilyBGE, nil
	case "minilm", "mini_lm", "all-minilm":
		return FamilyMiniLM, nil
	case "jina_v3", "jina-v3", "jinav3", "jina":
		return FamilyJinaV3, nil
	case "gemma", "embeddinggemma":
		return FamilyGemma, nil
	case "qwen3", "qwen":
		return FamilyQwen3, nil
	}
	return "", fmt.Errorf("%w: unknown model family %q", ErrConfigError, s)
}

// PolicyFor returns the policy for f.
func PolicyFor(f Family) (FamilyPolicy, error) {
	p, ok := policies[f]
	if !ok {
		return FamilyPolicy{}, fmt.Errorf("%w: unknown model family %q", ErrConfigError, f)
	}
	p.PooledOutputs = append([]string(nil), p.PooledOutputs...)
	return p, nil
}

// FormatQuery prefixes a search query the way the family was trained.
func (p FamilyPolicy) FormatQuery(text string) string {
	return p.QueryPrefix + text
}

// FormatDocument prefixes a document the way the family was trained.
func (p FamilyPolicy) FormatDocument(text string) string {
	return p.DocumentPrefix + text
}

// FormatQuery formats a query for family f. Unknown families return text unchanged.
func FormatQuery(f Family, text string) string {
	return policies[f].FormatQuery(text)
}

// FormatDocument formats a document for family f. Unknown families return text unchanged.
func FormatDocument(f Family, text string) string {
	return policies[f].FormatDocument(text)
}
