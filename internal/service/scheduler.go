package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/user/movierec/internal/logging"
)

// PipelineRunner 定时任务只需要能触发一次运行
type PipelineRunner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// EmbeddingScheduler 定时把新入库的电影嵌入向量索引
type EmbeddingScheduler struct {
	pipeline PipelineRunner
	interval time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEmbeddingScheduler 创建定时任务，interval 为 0 时 Start 不做任何事
func NewEmbeddingScheduler(pipeline PipelineRunner, interval time.Duration) *EmbeddingScheduler {
	return &EmbeddingScheduler{
		pipeline: pipeline,
		interval: interval,
		logger:   logging.Component("embedding-scheduler"),
	}
}

// Start 启动定时任务，启动时先运行一次
func (s *EmbeddingScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("未配置嵌入间隔，定时任务不启动")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
	s.logger.Info().Dur("interval", s.interval).Msg("嵌入定时任务已启动")
}

// Stop 停止定时任务，等待进行中的批次结束
func (s *EmbeddingScheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

func (s *EmbeddingScheduler) runOnce(ctx context.Context) {
	report, err := s.pipeline.Run(ctx)
	switch {
	case errors.Is(err, ErrPipelineBusy):
		s.logger.Info().Msg("已有嵌入任务在运行，本轮跳过")
	case err != nil:
		s.logger.Error().Err(err).Msg("定时嵌入失败")
	case !report.Complete():
		s.logger.Warn().Int("embedded", len(report.EmbeddedIDs)).Int("requested", report.Requested).Msg("定时嵌入部分完成，下一轮继续")
	}
}
