package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/chandlery/internal"
	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/events"
	"github.com/dukerupert/chandlery/internal/jobs"
	"github.com/dukerupert/chandlery/internal/shipping"
)

// Billing returns the Stripe provider, or the in-process mock when
// STRIPE_MOCK is set.
func Billing(cfg *internal.Config, logger *slog.Logger) (billing.Provider, error) {
	if cfg.Stripe.Mock {
		logger.Warn("using mock billing provider")
		return billing.NewMockProvider(), nil
	}

	stripeConfig := billing.StripeConfig{
		APIKey:         cfg.Stripe.SecretKey,
		WebhookSecret:  cfg.Stripe.WebhookSecret,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	provider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())
	return provider, nil
}

// Shipping returns EasyPost when a key is configured, the mock when
// EASYPOST_MOCK is set, and flat rates otherwise.
func Shipping(cfg *internal.Config, logger *slog.Logger) (shipping.Provider, error) {
	switch {
	case cfg.EasyPost.Mock:
		logger.Warn("using mock shipping provider")
		return shipping.NewMockProvider(), nil
	case cfg.EasyPost.APIKey != "":
		provider, err := shipping.NewEasyPostProvider(shipping.EasyPostConfig{
			APIKey: cfg.EasyPost.APIKey,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize EasyPost provider: %w", err)
		}
		return provider, nil
	default:
		logger.Warn("EASYPOST_API_KEY not set, quoting flat rates")
		return shipping.NewFlatRateProvider(nil), nil
	}
}

// Rates builds the currency converter. A Redis URL adds the shared cache
// tier; the returned func closes its client.
func Rates(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (*currency.Converter, func(), error) {
	opts := []currency.Option{
		currency.WithTTL(cfg.Rates.TTL),
		currency.WithLogger(logger),
	}
	closeFn := func() {}

	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			// The local tier and static table still serve; Redis can come back.
			logger.Warn("redis unreachable at startup", "error", err)
		}
		opts = append(opts, currency.WithSharedCache(currency.NewRedisCache(client, cfg.Redis.Prefix)))
		closeFn = func() { _ = client.Close() }
	}

	var source currency.RateSource
	if cfg.Rates.URL != "" {
		source = currency.NewHTTPSource(cfg.Rates.URL, 0)
	} else {
		logger.Warn("RATES_URL not set, converting with static rates")
	}

	return currency.NewConverter(source, opts...), closeFn, nil
}

// Email builds the delivery service: Postmark when a token is set, SMTP
// otherwise.
func Email(cfg *internal.Config, logger *slog.Logger) *email.Service {
	var sender email.Sender
	if cfg.Email.PostmarkToken != "" {
		sender = email.NewPostmarkSender(cfg.Email.PostmarkToken, cfg.Email.From, "outbound")
	} else {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     int(cfg.Email.Port),
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, logger)
	}
	return email.NewService(sender, cfg.Email.From, cfg.Email.FromName, logger)
}

// Broker connects to NATS. It returns nil without error when NATS_URL is
// empty, which makes the job queue run everything inline.
func Broker(cfg *internal.Config, name string, logger *slog.Logger) (*jobs.NATSBroker, error) {
	if cfg.NATS.URL == "" {
		logger.Warn("NATS_URL not set, jobs run inline")
		return nil, nil
	}
	return jobs.ConnectNATS(cfg.NATS.URL, name, logger)
}

// Publisher returns the Kafka lifecycle stream, or a no-op when no brokers
// are configured.
func Publisher(cfg *internal.Config, logger *slog.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("KAFKA_BROKERS not set, lifecycle events are not streamed")
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
}
