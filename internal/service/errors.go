package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 源电影不存在
	ErrNotFound = errors.New("movie not found")
	// ErrPipelineBusy 已有一个嵌入任务在运行
	ErrPipelineBusy = errors.New("embedding pipeline is already running")
)

// ValidationError 请求字段缺失或非法，对应 400
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError 源电影不存在，对应 404
type NotFoundError struct {
	ID uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("movie %d not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// UpstreamError 向量服务 / 向量索引 / 电影存储不可用。
// 推荐接口遇到它时降级为空列表
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
