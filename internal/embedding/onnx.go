//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/dalil/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a local sentence-embedding model with ONNX Runtime. It requires CGO and
// the onnxruntime shared library. Inference reuses one set of tensors, so calls are serialized.
type ONNXEmbedder struct {
	session      *ort.AdvancedSession
	dimensions   int
	maxTokens    int
	tokenizer    Tokenizer
	inputIDs     *ort.Tensor[int64]
	attention    *ort.Tensor[int64]
	tokenTypeIDs *ort.Tensor[int64]
	output       *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath. The model must take input_ids, attention_mask and
// token_type_ids of shape [1, maxTokens] and produce a pooled "output" of shape [1, dimensions].
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	e := &ONNXEmbedder{dimensions: dimensions, maxTokens: maxTokens, tokenizer: &SimpleTokenizer{}}

	ids, mask, types := e.tokenizer.Tokenize("", maxTokens)
	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if e.inputIDs, err = ort.NewTensor(inputShape, ids); err != nil {
		return nil, e.fail("input_ids tensor", err)
	}
	if e.attention, err = ort.NewTensor(inputShape, mask); err != nil {
		return nil, e.fail("attention_mask tensor", err)
	}
	if e.tokenTypeIDs, err = ort.NewTensor(inputShape, types); err != nil {
		return nil, e.fail("token_type_ids tensor", err)
	}
	if e.output, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		return nil, e.fail("output tensor", err)
	}
	e.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attention, e.tokenTypeIDs},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		return nil, e.fail("ONNX session", err)
	}
	return e, nil
}

func (e *ONNXEmbedder) fail(what string, err error) error {
	_ = e.Close()
	return fmt.Errorf("failed to create %s: %w", what, err)
}

// Embed returns the L2-normalized embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attention.GetData(), mask)
	copy(e.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.output.GetData()[:e.dimensions])
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors. Safe on a partially constructed embedder.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDs != nil {
		_ = e.inputIDs.Destroy()
		e.inputIDs = nil
	}
	if e.attention != nil {
		_ = e.attention.Destroy()
		e.attention = nil
	}
	if e.tokenTypeIDs != nil {
		_ = e.tokenTypeIDs.Destroy()
		e.tokenTypeIDs = nil
	}
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
