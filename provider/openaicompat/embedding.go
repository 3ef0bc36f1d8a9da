package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/switchboard"
)

// defaultEmbeddingDims is the width of text-embedding-3-small, the model the
// router defaults to.
const defaultEmbeddingDims = 1536

// Embedding implements switchboard.EmbeddingProvider against the OpenAI
// embeddings endpoint. One call embeds a whole batch; the registry relies on
// that to embed the catalog in a single request at startup.
type Embedding struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	name     string
	dims     int
	sendDims bool
}

// Compile-time interface check.
var _ switchboard.EmbeddingProvider = (*Embedding)(nil)

// EmbeddingOption configures an Embedding instance.
type EmbeddingOption func(*Embedding)

// WithEmbeddingName sets the provider name returned by Name() (default "openai").
func WithEmbeddingName(name string) EmbeddingOption {
	return func(e *Embedding) { e.name = name }
}

// WithEmbeddingHTTPClient sets a custom HTTP client.
func WithEmbeddingHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

// WithDimensions requests n-dimensional vectors from the API (supported by
// the text-embedding-3 family) and makes Dimensions() report n.
func WithDimensions(n int) EmbeddingOption {
	return func(e *Embedding) {
		e.dims = n
		e.sendDims = true
	}
}

// NewEmbedding creates an OpenAI-compatible embeddings client. baseURL is
// the same API base used for chat; the /embeddings path is appended
// automatically. Without WithDimensions the model's native width is used and
// Dimensions() reports 1536, the text-embedding-3-small default.
func NewEmbedding(apiKey, model, baseURL string, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
		dims:    defaultEmbeddingDims,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the provider name.
func (e *Embedding) Name() string { return e.name }

// Dimensions returns the embedding vector size.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed returns one vector per input text, in input order. Vectors are
// reassembled by the response's index field; some servers answer out of
// order under load.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := EmbeddingRequest{Model: e.model, Input: texts}
	if e.sendDims {
		body.Dimensions = e.dims
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", e.name, err)
	}

	url := e.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", e.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &switchboard.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: switchboard.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed EmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", e.name, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%s: got %d embeddings for %d inputs", e.name, len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", e.name, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("%s: missing embedding for input %d", e.name, i)
		}
	}
	return out, nil
}
