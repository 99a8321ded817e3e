package usecase

import (
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
)

type noopObserver struct{}

func (noopObserver) ItemStarted()                                   {}
func (noopObserver) ItemFinished(domain.ItemOutcome, time.Duration) {}
func (noopObserver) NormalizationFallback(int)                      {}
func (noopObserver) TickFinished(int, time.Duration)                {}
