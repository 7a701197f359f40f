package embedder

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}
}

func TestCacheKey_ScopedByProviderAndModel(t *testing.T) {
	a := cacheKey(ProviderOpenAI, DefaultOpenAIModel, "Seizure")
	b := cacheKey(ProviderJina, DefaultJinaModel, "Seizure")
	c := cacheKey(ProviderOpenAI, DefaultOpenAIModel, "Seizure")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}

func TestValidateBatch(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"valid", []string{"a", "b"}, nil},
		{"empty batch", nil, ErrInvalidInput},
		{"empty text", []string{"a", ""}, ErrEmptyText},
		{"too large", make([]string, MaxBatchSize+1), ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatch(tt.texts)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		cache := NewCache(10)
		cache.Set("k", []float32{1, 2, 3})

		got, ok := cache.Get("k")
		require.True(t, ok)
		got[0] = 99

		again, ok := cache.Get("k")
		require.True(t, ok)
		assert.Equal(t, []float32{1, 2, 3}, again)
	})

	t.Run("set stores a copy", func(t *testing.T) {
		cache := NewCache(10)
		vec := []float32{1, 2}
		cache.Set("k", vec)
		vec[0] = 42

		got, _ := cache.Get("k")
		assert.Equal(t, float32(1), got[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", []float32{1})
		cache.Set("b", []float32{2})
		cache.Get("a") // a is now most recent
		cache.Set("c", []float32{3})

		_, ok := cache.Get("b")
		assert.False(t, ok)
		_, ok = cache.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, cache.Size())
	})

	t.Run("clear", func(t *testing.T) {
		cache := NewCache(0)
		cache.Set("a", []float32{1})
		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic unit vectors", func(t *testing.T) {
		p := NewLocalProvider(0, nil)
		assert.Equal(t, LocalDimension, p.Dimension())
		assert.Equal(t, ProviderLocal, p.Provider())

		first, err := p.EmbedBatch(ctx, []string{"Seizure", "Ataxia"})
		require.NoError(t, err)
		second, err := p.EmbedBatch(ctx, []string{"Seizure"})
		require.NoError(t, err)

		require.Len(t, first, 2)
		assert.Equal(t, first[0], second[0])
		assert.NotEqual(t, first[0], first[1])

		var norm float64
		for _, v := range first[0] {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("custom dimension fills every component", func(t *testing.T) {
		p := NewLocalProvider(13, nil)
		vecs, err := p.EmbedBatch(ctx, []string{"x"})
		require.NoError(t, err)
		require.Len(t, vecs[0], 13)
		zeros := 0
		for _, v := range vecs[0] {
			if v == 0 {
				zeros++
			}
		}
		assert.Less(t, zeros, 2)
	})

	t.Run("cache is used", func(t *testing.T) {
		cache := NewCache(10)
		p := NewLocalProvider(8, cache)
		_, err := p.EmbedBatch(ctx, []string{"a", "b", "a"})
		require.NoError(t, err)
		assert.Equal(t, 2, cache.Size())
	})

	t.Run("validation", func(t *testing.T) {
		p := NewLocalProvider(8, nil)
		_, err := p.EmbedBatch(ctx, []string{""})
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("context cancellation", func(t *testing.T) {
		p := NewLocalProvider(8, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.EmbedBatch(cctx, []string{"a"})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

// countingEmbedder records batch sizes
type countingEmbedder struct {
	*LocalProvider
	batches []int
	failAt  int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, len(texts))
	if c.failAt > 0 && len(c.batches) == c.failAt {
		return nil, errors.New("boom")
	}
	return c.LocalProvider.EmbedBatch(ctx, texts)
}

func TestEmbedAll(t *testing.T) {
	ctx := context.Background()
	texts := make([]string, 0, 230)
	for i := 0; i < 230; i++ {
		texts = append(texts, "term "+strings.Repeat("x", i+1))
	}

	t.Run("splits and preserves order", func(t *testing.T) {
		e := &countingEmbedder{LocalProvider: NewLocalProvider(4, nil)}
		vecs, err := EmbedAll(ctx, e, texts, 100)
		require.NoError(t, err)
		require.Len(t, vecs, 230)
		assert.Equal(t, []int{100, 100, 30}, e.batches)

		single, err := e.LocalProvider.EmbedBatch(ctx, []string{texts[150]})
		require.NoError(t, err)
		assert.Equal(t, single[0], vecs[150])
	})

	t.Run("invalid batch size uses default", func(t *testing.T) {
		e := &countingEmbedder{LocalProvider: NewLocalProvider(4, nil)}
		_, err := EmbedAll(ctx, e, texts[:120], 500)
		require.NoError(t, err)
		assert.Equal(t, []int{DefaultBatchSize, DefaultBatchSize, 20}, e.batches)
	})

	t.Run("error stops", func(t *testing.T) {
		e := &countingEmbedder{LocalProvider: NewLocalProvider(4, nil), failAt: 2}
		_, err := EmbedAll(ctx, e, texts, 100)
		assert.Error(t, err)
		assert.Len(t, e.batches, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		e := &countingEmbedder{LocalProvider: NewLocalProvider(4, nil)}
		vecs, err := EmbedAll(ctx, e, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, vecs)
		assert.Empty(t, e.batches)
	})
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}
