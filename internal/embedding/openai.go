package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAI 通过 langchaingo 调用任意 OpenAI 兼容的 embeddings 接口
type OpenAI struct {
	embedder embeddings.Embedder
	dims     int
}

// NewOpenAI 创建客户端；本地兼容服务无需鉴权时 token 传 "none"
func NewOpenAI(baseURL, apiKey, model string, dims int) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 openai 客户端失败: %w", err)
	}

	// 不剥离换行：入库与查询必须是一字不差的同一段文本
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("创建 embedder 失败: %w", err)
	}

	return &OpenAI{embedder: e, dims: dims}, nil
}

// EmbedTexts 批量生成向量
func (o *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return finalize(vectors, len(texts), o.dims)
}

func (o *OpenAI) Dimensions() int {
	return o.dims
}
