package semantic

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/internal/config"
	apperrors "github.com/aihub/msgsearch-go/internal/errors"
	"github.com/aihub/msgsearch-go/internal/logger"
)

// Embedder 定义文本向量化接口
// 向量顺序与输入顺序一致，所有向量维度相同
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, apperrors.NewProviderUnavailableError(0).WithCause(stderrors.New("embedding provider not configured"))
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Model() string {
	return ""
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
// 无状态：不读写缓存，缓存由管道层负责
type OpenAIEmbedder struct {
	client        *openai.Client
	model         string
	dimensions    int
	maxBatchSize  int
	maxInputChars int
	maxRetries    int
	retryBackoff  time.Duration
}

// NewOpenAIEmbedder 创建OpenAI嵌入向量生成器
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims, ok := embeddingDimensions[model]
	if !ok {
		dims = 1536
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 100
	}
	maxChars := cfg.MaxInputChars
	if maxChars <= 0 {
		maxChars = 24000
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	return &OpenAIEmbedder{
		client:        openai.NewClientWithConfig(clientConfig),
		model:         model,
		dimensions:    dims,
		maxBatchSize:  maxBatch,
		maxInputChars: maxChars,
		maxRetries:    retries,
		retryBackoff:  backoff,
	}
}

// Embed 批量向量化
// 超过maxBatchSize的输入在内部拆分为子批次，输出顺序与输入一致
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.client == nil {
		return nil, apperrors.NewProviderUnavailableError(0).WithCause(stderrors.New("openai client not initialized"))
	}
	if len(texts) == 0 {
		return nil, apperrors.NewInvalidInputError("no texts to embed")
	}

	// 输入校验先于任何网络调用
	normalized := make([]string, len(texts))
	for i, text := range texts {
		n := NormalizeText(text)
		if n == "" {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("text at index %d is empty", i))
		}
		if len(n) > e.maxInputChars {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("text at index %d exceeds %d chars", i, e.maxInputChars))
		}
		normalized[i] = n
	}

	vectors := make([][]float32, 0, len(normalized))
	for start := 0; start < len(normalized); start += e.maxBatchSize {
		end := start + e.maxBatchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		batch, err := e.embedBatch(ctx, normalized[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embedBatch 单个子批次的调用与有界重试
func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastRateLimited bool
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if ctxErr := apperrors.FromContext(ctx, "embedding"); ctxErr != nil {
			return nil, ctxErr
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: batch,
		})
		if err == nil {
			vectors, convErr := e.collectVectors(resp, len(batch))
			if convErr == nil {
				return vectors, nil
			}
			// 响应不完整按瞬时故障处理
			lastErr = convErr
			lastRateLimited = false
		} else {
			if ctxErr := apperrors.FromContext(ctx, "embedding"); ctxErr != nil {
				return nil, ctxErr.WithCause(err)
			}

			rateLimited, retryable, classified := classifyProviderError(err)
			if !retryable {
				return nil, classified
			}
			lastErr = err
			lastRateLimited = rateLimited
		}

		if attempt < e.maxRetries-1 {
			logger.Warn("embedding attempt failed, backing off",
				zap.Int("attempt", attempt+1),
				zap.Bool("rate_limited", lastRateLimited),
				zap.Error(lastErr))
			if err := sleepBackoff(ctx, attempt, e.retryBackoff, "embedding"); err != nil {
				return nil, err
			}
		}
	}

	if lastRateLimited {
		return nil, apperrors.NewRateLimitedError(e.maxRetries).WithCause(lastErr)
	}
	return nil, apperrors.NewProviderUnavailableError(e.maxRetries).WithCause(lastErr)
}

// collectVectors 按响应中的Index归位，保证输出顺序与输入一致
func (e *OpenAIEmbedder) collectVectors(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, fmt.Errorf("embedding response has %d vectors, want %d", len(resp.Data), want)
	}

	vectors := make([][]float32, want)
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= want {
			return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
		}
		vector := make([]float32, len(item.Embedding))
		copy(vector, item.Embedding)
		vectors[item.Index] = vector
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embedding response missing vector for index %d", i)
		}
	}
	return vectors, nil
}

// classifyProviderError 区分限流、瞬时故障和不可重试的调用错误
func classifyProviderError(err error) (rateLimited bool, retryable bool, classified error) {
	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return true, true, nil
		case apiErr.HTTPStatusCode >= 500:
			return false, true, nil
		case apiErr.HTTPStatusCode == 400:
			return false, false, apperrors.NewInvalidInputError("embedding provider rejected input").WithCause(err)
		default:
			// 401/403等认证类错误重试无意义
			return false, false, apperrors.NewProviderUnavailableError(1).WithCause(err)
		}
	}
	// 传输层错误按瞬时故障处理
	return false, true, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
