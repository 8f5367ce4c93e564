package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/movierec/internal/utils"
)

// ollamaEmbedRequest Ollama /api/embed 请求结构
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse Ollama /api/embed 响应结构
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Ollama 调用本地 Ollama 生成向量
type Ollama struct {
	client *utils.HTTPClient
	host   string
	model  string
	dims   int
}

// NewOllama 创建 Ollama 客户端
func NewOllama(client *utils.HTTPClient, host, model string, dims int) *Ollama {
	return &Ollama{
		client: client,
		host:   strings.TrimRight(host, "/"),
		model:  model,
		dims:   dims,
	}
}

// EmbedTexts 一次请求批量生成向量
func (o *Ollama) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var result ollamaEmbedResponse
	err := o.client.PostJSON(ctx, o.host+"/api/embed", ollamaEmbedRequest{
		Model: o.model,
		Input: texts,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	return finalize(result.Embeddings, len(texts), o.dims)
}

func (o *Ollama) Dimensions() int {
	return o.dims
}
