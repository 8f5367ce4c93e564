package embedding

import (
	"context"
	"fmt"
	"net/url"

	"github.com/user/movierec/internal/utils"
)

// GeminiBaseURL Gemini REST 接口地址
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model                string        `json:"model"`
	Content              geminiContent `json:"content"`
	TaskType             string        `json:"taskType,omitempty"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

// geminiBatchRequest batchEmbedContents 请求结构
type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

// geminiBatchResponse batchEmbedContents 响应结构
type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Gemini 调用 Gemini batchEmbedContents 生成向量
type Gemini struct {
	client  *utils.HTTPClient
	baseURL string
	apiKey  string
	model   string
	dims    int
}

// NewGemini 创建 Gemini 客户端
func NewGemini(client *utils.HTTPClient, baseURL, apiKey, model string, dims int) *Gemini {
	return &Gemini{
		client:  client,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
	}
}

// EmbedTexts 批量生成向量。语料和查询使用同一 taskType，保证两侧文本走同一路径
func (g *Gemini) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	modelName := "models/" + g.model
	reqBody := geminiBatchRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = geminiEmbedRequest{
			Model:                modelName,
			Content:              geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType:             "SEMANTIC_SIMILARITY",
			OutputDimensionality: g.dims,
		}
	}

	endpoint := fmt.Sprintf("%s/%s:batchEmbedContents?key=%s", g.baseURL, modelName, url.QueryEscape(g.apiKey))

	var result geminiBatchResponse
	if err := g.client.PostJSON(ctx, endpoint, reqBody, &result); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	vectors := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		vectors[i] = e.Values
	}
	return finalize(vectors, len(texts), g.dims)
}

func (g *Gemini) Dimensions() int {
	return g.dims
}
