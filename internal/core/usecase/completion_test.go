package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/chunking"
)

func TestChunkedCompletionEmptyTextSendsOneEmptyChunk(t *testing.T) {
	provider := &providerFake{}
	client := NewChunkedCompletion(provider, chunking.NewSplitter(10), 0, discardLogger())

	responses, err := client.Complete(context.Background(), []domain.Segment{testInstruction.Segment()}, "empty.txt", "")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	calls := provider.calls()
	if len(responses) != 1 || len(calls) != 1 {
		t.Fatalf("expected one request, got %d", len(calls))
	}
	if calls[0].Item.Text != "" || calls[0].Item.Total != 1 {
		t.Fatalf("unexpected item %+v", calls[0].Item)
	}
}

func TestChunkedCompletionAbortsOnFirstFailure(t *testing.T) {
	provider := &providerFake{respond: func(req domain.CompletionRequest) (string, error) {
		if req.Item.Index == 2 {
			return "", errors.New("rate limited")
		}
		return "{}", nil
	}}
	client := NewChunkedCompletion(provider, chunking.NewSplitter(4), 0, discardLogger())

	_, err := client.Complete(context.Background(), nil, "x.txt", "aaaabbbbccccdddd")
	if !domain.IsKind(err, domain.ErrCompletionService) {
		t.Fatalf("expected ErrCompletionService, got %v", err)
	}
	if n := len(provider.calls()); n != 2 {
		t.Fatalf("expected remaining chunks to be skipped, got %d requests", n)
	}
}

func TestChunkedCompletionDelayHonorsContext(t *testing.T) {
	provider := &providerFake{}
	client := NewChunkedCompletion(provider, chunking.NewSplitter(0), time.Hour, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := client.Complete(ctx, nil, "x.txt", "text")
	if !domain.IsKind(err, domain.ErrCompletionService) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected interrupted delay, got %v", err)
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("delay did not honor context")
	}
	if len(provider.calls()) != 0 {
		t.Fatalf("provider must not be called")
	}
}

func TestChunkedCompletionWaitsBeforeFirstRequest(t *testing.T) {
	var firstAt time.Time
	provider := &providerFake{respond: func(domain.CompletionRequest) (string, error) {
		if firstAt.IsZero() {
			firstAt = time.Now()
		}
		return "{}", nil
	}}
	client := NewChunkedCompletion(provider, chunking.NewSplitter(0), 30*time.Millisecond, discardLogger())

	started := time.Now()
	if _, err := client.Complete(context.Background(), nil, "x.txt", "text"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if firstAt.Sub(started) < 30*time.Millisecond {
		t.Fatalf("expected delay before first request, got %s", firstAt.Sub(started))
	}
}
