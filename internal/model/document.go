package model

// DocumentMetadata 随向量一起存储的交叉引用键
type DocumentMetadata struct {
	InternalID   uint   `json:"internal_id"`
	ExternalID   int64  `json:"external_id"`
	DocumentHash string `json:"document_hash"` // 生成文档时记录的 document_hash，标记已嵌入时据此判断文本是否被改写
}

// Document 待嵌入的电影文档，只在内存中流转，不单独持久化
type Document struct {
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Neighbor 向量检索返回的近邻，Rank 从 0 开始，越小越相似
type Neighbor struct {
	InternalID uint  `json:"internal_id"`
	ExternalID int64 `json:"external_id"`
	Rank       int   `json:"rank"`
}
