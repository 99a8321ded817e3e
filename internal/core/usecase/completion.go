package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/core/ports"
)

const DefaultCompletionDelay = time.Second

// ChunkedCompletion sends one item to the provider chunk by chunk, each
// request carrying the full context segment set.
type ChunkedCompletion struct {
	provider ports.CompletionProvider
	chunker  ports.Chunker
	delay    time.Duration
	logger   *slog.Logger
}

func NewChunkedCompletion(
	provider ports.CompletionProvider,
	chunker ports.Chunker,
	delay time.Duration,
	logger *slog.Logger,
) *ChunkedCompletion {
	if delay < 0 {
		delay = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkedCompletion{
		provider: provider,
		chunker:  chunker,
		delay:    delay,
		logger:   logger,
	}
}

func (c *ChunkedCompletion) Complete(ctx context.Context, segments []domain.Segment, itemName, text string) ([]string, error) {
	items := labelChunks(itemName, c.chunker.Split(text))

	if err := c.pause(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrCompletionService, "wait before completion", err)
	}

	responses := make([]string, 0, len(items))
	for _, item := range items {
		started := time.Now()
		response, err := c.provider.Complete(ctx, domain.CompletionRequest{
			Segments: segments,
			Item:     item,
		})
		if err != nil {
			return nil, domain.WrapError(domain.ErrCompletionService, "complete "+item.Header(), err)
		}
		c.logger.Debug("chunk completed",
			"provider", c.provider.Name(),
			"item", itemName,
			"chunk", item.Index,
			"chunks", item.Total,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		responses = append(responses, response)
	}
	return responses, nil
}

func (c *ChunkedCompletion) pause(ctx context.Context) error {
	if c.delay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("completion delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
