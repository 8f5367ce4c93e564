// Package embedding 封装文本向量生成服务（Ollama / Gemini / OpenAI 兼容接口）
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/user/movierec/internal/config"
	"github.com/user/movierec/internal/utils"
)

// Embedder 文本向量生成接口
type Embedder interface {
	// EmbedTexts 按输入顺序返回每条文本的向量
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 向量维度，0 表示不校验
	Dimensions() int
}

// ErrEmptyResponse 服务端没有返回向量
var ErrEmptyResponse = errors.New("embedding: 服务返回了空向量")

// New 根据配置创建对应的 Embedder
func New(cfg config.EmbeddingConfig, timeout time.Duration) (Embedder, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(utils.NewHTTPClient(timeout), cfg.OllamaHost, cfg.OllamaModel, cfg.Dimensions), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return NewGemini(utils.NewHTTPClient(timeout), GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Dimensions), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIURL, cfg.OpenAIKey, cfg.OpenAIModel, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("未知的向量服务: %s", cfg.Provider)
	}
}

// finalize 校验条数与维度，并做 L2 归一化，保证余弦距离与内积一致
func finalize(vectors [][]float32, want, dims int) ([][]float32, error) {
	if len(vectors) != want {
		return nil, fmt.Errorf("embedding: 向量条数不匹配: 期望 %d, 实际 %d", want, len(vectors))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, ErrEmptyResponse
		}
		if dims > 0 && len(v) != dims {
			return nil, fmt.Errorf("embedding: 向量维度不匹配: 期望 %d, 实际 %d", dims, len(v))
		}
		vectors[i] = Normalize(v)
	}
	return vectors, nil
}

// Normalize 返回单位长度向量，零向量原样返回
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
