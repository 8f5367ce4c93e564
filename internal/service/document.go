package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/user/movierec/internal/model"
)

// documentTemplate 语料侧与查询侧共用的文档模板。
// 字段顺序是持久契约：一旦修改，已有向量与新查询不再对称，必须全量重新嵌入
const documentTemplate = "{Movie title: %s,\n\n" +
	"Movie release Date: %s,\n\n" +
	"Movie language: %s,\n\n" +
	"Movie genre: %s,\n\n" +
	"Description: %s,\n\n" +
	"Movie Actors: %s,\n\n" +
	"Movie Director: %s,\n\n" +
	"Is movie adult: %t}"

// BuildDocuments 每条记录生成一个文档，保持输入顺序；ID 为 0 的记录被跳过
func BuildDocuments(movies []model.Movie) []model.Document {
	docs := make([]model.Document, 0, len(movies))
	for i := range movies {
		if movies[i].ID == 0 {
			continue
		}
		docs = append(docs, BuildDocument(&movies[i]))
	}
	return docs
}

// BuildDocument 生成单条文档
func BuildDocument(m *model.Movie) model.Document {
	return model.Document{
		Text: DocumentText(m),
		Metadata: model.DocumentMetadata{
			InternalID:   m.ID,
			ExternalID:   m.TMDBID,
			DocumentHash: m.DocumentHash,
		},
	}
}

// DocumentText 按模板拼接嵌入文本
func DocumentText(m *model.Movie) string {
	releaseDate := ""
	if m.ReleaseDate != nil && !m.ReleaseDate.IsZero() {
		releaseDate = m.ReleaseDate.UTC().Format("2006-01-02")
	}
	return fmt.Sprintf(documentTemplate,
		m.OriginalTitle,
		releaseDate,
		m.OriginalLanguage,
		strings.Join(m.Genres, ","),
		m.Overview,
		strings.Join(m.Actors, ","),
		strings.Join(m.Directors, ","),
		m.Adult,
	)
}

// DocumentHash 文档文本的 sha256，入库时用于判断向量是否过期
func DocumentHash(m *model.Movie) string {
	sum := sha256.Sum256([]byte(DocumentText(m)))
	return hex.EncodeToString(sum[:])
}
