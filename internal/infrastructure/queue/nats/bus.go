package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/file-organiser/internal/core/domain"
	"github.com/kirillkom/file-organiser/internal/infrastructure/resilience"
)

const (
	DefaultTriggerSubject = "organizer.tenant.trigger"
	DefaultEventSubject   = "organizer.item.committed"
	DefaultQueueGroup     = "organizer-workers"
)

// Bus carries tenant triggers in and commit events out.
type Bus struct {
	conn           *nats.Conn
	triggerSubject string
	eventSubject   string
	queueGroup     string
	executor       *resilience.Executor
	logger         *slog.Logger
}

type Options struct {
	TriggerSubject       string
	EventSubject         string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("file-organiser"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:           conn,
		triggerSubject: withDefault(options.TriggerSubject, DefaultTriggerSubject),
		eventSubject:   withDefault(options.EventSubject, DefaultEventSubject),
		queueGroup:     withDefault(options.QueueGroup, DefaultQueueGroup),
		executor:       options.ResilienceExecutor,
		logger:         logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) PublishItemCommitted(ctx context.Context, record domain.CommitRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal commit event: %w", err)
	}
	return b.publish(ctx, b.eventSubject, payload)
}

func (b *Bus) PublishTenantTrigger(ctx context.Context, tenant domain.Tenant) error {
	return b.publish(ctx, b.triggerSubject, []byte(tenant))
}

func (b *Bus) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, "nats.publish", call, publishErrorClass)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

// publishErrorClass retries only connection-level failures. Caller
// cancellation neither retries nor trips the breaker.
func publishErrorClass(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isConnectionError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func isConnectionError(err error) bool {
	for _, target := range []error{
		nats.ErrNoServers,
		nats.ErrTimeout,
		nats.ErrConnectionClosed,
		nats.ErrDisconnected,
		nats.ErrReconnectBufExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func asTemporary(err error) error {
	if domain.IsKind(err, domain.ErrTemporary) || !publishErrorClass(err).Retryable {
		return err
	}
	return domain.WrapError(domain.ErrTemporary, "nats publish", err)
}

// SubscribeTenantTriggers hands every valid trigger to handler until ctx is
// done, then drains the subscription.
func (b *Bus) SubscribeTenantTriggers(ctx context.Context, handler func(domain.Tenant) error) error {
	sub, err := b.conn.QueueSubscribe(b.triggerSubject, b.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		tenant, err := decodeTrigger(msg.Data)
		if err != nil {
			b.logger.Warn("invalid tenant trigger", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(tenant); err != nil {
			b.logger.Error("tenant trigger failed", "tenant", tenant, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	b.logger.Info("listening for tenant triggers", "subject", b.triggerSubject, "queue_group", b.queueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// decodeTrigger accepts a bare tenant id or {"tenant": "..."}.
func decodeTrigger(data []byte) (domain.Tenant, error) {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			Tenant string `json:"tenant"`
		}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "decode trigger", err)
		}
		raw = payload.Tenant
	}
	return domain.ParseTenant(raw)
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
