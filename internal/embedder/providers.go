package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hash"

	// Endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	DefaultCacheSize = 10000

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// RemoteProvider implements Embedder over an OpenAI-compatible
// /v1/embeddings endpoint. OpenAI and Jina AI share the request format.
type RemoteProvider struct {
	provider   string
	apiKey     string
	model      string
	url        string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     *zap.Logger
}

// remoteOptions holds the per-provider settings of a RemoteProvider
type remoteOptions struct {
	provider          string
	apiKey            string
	model             string
	url               string
	dimension         int
	timeout           time.Duration
	requestsPerSecond float64
	cache             *Cache
	logger            *zap.Logger
}

func newRemoteProvider(opts remoteOptions) (*RemoteProvider, error) {
	if opts.apiKey == "" {
		return nil, fmt.Errorf("%w: %s API key not set", ErrNoProviderEnabled, opts.provider)
	}
	if opts.timeout <= 0 {
		opts.timeout = 30 * time.Second
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.requestsPerSecond > 0 {
		limit = rate.Limit(opts.requestsPerSecond)
	}

	return &RemoteProvider{
		provider:   opts.provider,
		apiKey:     opts.apiKey,
		model:      opts.model,
		url:        opts.url,
		dimension:  opts.dimension,
		httpClient: &http.Client{Timeout: opts.timeout},
		cache:      opts.cache,
		limiter:    rate.NewLimiter(limit, 1),
		retry:      DefaultRetryConfig(),
		logger:     opts.logger.With(zap.String("provider", opts.provider)),
	}, nil
}

// EmbedBatch implements Embedder. Cached texts are not sent to the API.
func (p *RemoteProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, text := range texts {
		if p.cache != nil {
			if vec, ok := p.cache.Get(cacheKey(p.provider, p.model, text)); ok {
				out[i] = vec
				continue
			}
		}
		pending = append(pending, text)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	vectors, err := retryWithBackoff(ctx, p.retry, func() ([][]float32, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return p.callAPI(ctx, pending)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	for j, vec := range vectors {
		out[pendingIdx[j]] = vec
		if p.cache != nil {
			p.cache.Set(cacheKey(p.provider, p.model, pending[j]), vec)
		}
	}

	p.logger.Debug("embedded batch",
		zap.Int("texts", len(texts)),
		zap.Int("requested", len(pending)))
	return out, nil
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *RemoteProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// Responses carry an index; order by it rather than trusting array order
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		if p.dimension > 0 && len(d.Embedding) != p.dimension {
			return nil, &permanentError{fmt.Errorf("embedding %d has dimension %d, want %d", i, len(d.Embedding), p.dimension)}
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *RemoteProvider) Dimension() int {
	return p.dimension
}

func (p *RemoteProvider) Provider() string {
	return p.provider
}

func (p *RemoteProvider) Model() string {
	return p.model
}

func (p *RemoteProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic pseudo-embeddings from text hashes.
// Equal texts get equal unit vectors; it needs no network access.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. dimension <= 0 selects LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}
}

// EmbedBatch implements Embedder
func (l *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := cacheKey(ProviderLocal, l.model, text)
		if l.cache != nil {
			if vec, ok := l.cache.Get(key); ok {
				out[i] = vec
				continue
			}
		}
		out[i] = l.hashVector(text)
		if l.cache != nil {
			l.cache.Set(key, out[i])
		}
	}
	return out, nil
}

// hashVector expands SHA-256(counter || text) blocks into a unit vector
func (l *LocalProvider) hashVector(text string) []float32 {
	vec := make([]float32, l.dimension)
	var counter [4]byte
	for i := 0; i < l.dimension; i += 8 {
		binary.LittleEndian.PutUint32(counter[:], uint32(i/8))
		h := sha256.New()
		h.Write(counter[:])
		h.Write([]byte(text))
		sum := h.Sum(nil)
		for j := 0; j < 8 && i+j < l.dimension; j++ {
			bits := binary.LittleEndian.Uint32(sum[j*4:])
			vec[i+j] = float32(bits)/float32(math.MaxUint32)*2 - 1
		}
	}
	return NormalizeVector(vec)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
