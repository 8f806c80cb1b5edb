package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Delinahwakio/fantooo-dispatch/internal/chats"
	appconfig "github.com/Delinahwakio/fantooo-dispatch/internal/config"
	"github.com/Delinahwakio/fantooo-dispatch/internal/dispatch"
	"github.com/Delinahwakio/fantooo-dispatch/internal/escalations"
	"github.com/Delinahwakio/fantooo-dispatch/internal/notify"
	"github.com/Delinahwakio/fantooo-dispatch/internal/operators"
	"github.com/Delinahwakio/fantooo-dispatch/pkg/logging"
)

// Stores bundles the persistence layer behind the dispatch engine.
type Stores struct {
	Chats       chats.Store
	Operators   operators.Directory
	Escalations escalations.Store
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildQueue returns the shared queue when Redis is configured, otherwise an
// in-process queue suitable for a single node.
func BuildQueue(redisClient *redis.Client, logger *logging.Logger) dispatch.Queue {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient != nil {
		logger.Info("using redis-backed dispatch queue")
		return dispatch.NewRedisQueue(redisClient)
	}
	logger.Warn("redis not configured, using in-memory dispatch queue")
	return dispatch.NewMemoryQueue()
}

// BuildPGPool connects to Postgres, or returns nil when no database is
// configured.
func BuildPGPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: failed to connect to postgres: %w", err)
	}
	return pool, nil
}

// BuildStores wires Postgres-backed stores when a pool is available and
// falls back to in-memory stores otherwise.
func BuildStores(pool *pgxpool.Pool, logger *logging.Logger) Stores {
	if logger == nil {
		logger = logging.Default()
	}
	if pool != nil {
		return Stores{
			Chats:       chats.NewPGStore(pool),
			Operators:   operators.NewPGDirectory(pool),
			Escalations: escalations.NewPGStore(pool),
		}
	}
	logger.Warn("database not configured, using in-memory stores")
	return Stores{
		Chats:       chats.NewMemoryStore(),
		Operators:   operators.NewMemoryDirectory(),
		Escalations: escalations.NewMemoryStore(),
	}
}

// BuildNotifier assembles the escalation fan-out from whichever sinks are
// configured. Returns nil when no sink is available.
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.Notifier {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var email notify.EmailSender
	if cfg.SendGridAPIKey != "" && cfg.AdminEmail != "" {
		email = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}

	var publisher notify.Publisher
	if cfg.EscalationQueueURL != "" {
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load aws config, escalation queue disabled", "error", err)
		} else {
			publisher = notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EscalationQueueURL)
		}
	}

	if email == nil && publisher == nil {
		logger.Warn("no escalation sinks configured, notifications disabled")
		return nil
	}
	return notify.NewService(email, publisher, cfg.AdminEmail, logger)
}

func loadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, err
	}
	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if service == sqs.ServiceID {
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			},
		)
	}
	return awsCfg, nil
}
