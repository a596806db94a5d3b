// Package factory wires the application together: it loads configuration,
// initializes every external client with a health check, and hands out the
// fully constructed services and handlers.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"agroassist-auth/internal/audit"
	"agroassist-auth/internal/bucketing"
	"agroassist-auth/internal/client"
	"agroassist-auth/internal/config"
	"agroassist-auth/internal/encryption"
	"agroassist-auth/internal/handler"
	"agroassist-auth/internal/hashing"
	"agroassist-auth/internal/limiter"
	"agroassist-auth/internal/notify"
	redisrepo "agroassist-auth/internal/repository/redis"
	"agroassist-auth/internal/repository/scylla"
	"agroassist-auth/internal/service"
	"agroassist-auth/internal/token"
	"agroassist-auth/internal/util"
)

// Factory owns the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	buckets      *bucketing.Manager
	encryptor    *encryption.Manager
	hasher       *hashing.PasswordHasher
	codec        *hashing.OTPCodec
	tokenManager *token.Manager

	limiterStore limiter.Store
	lockout      *limiter.LockoutGuard
	throttle     *limiter.PhoneThrottle
	sweepCtx     context.Context
	sweepCancel  context.CancelFunc

	recorder *audit.Recorder

	users     scylla.UserStore
	sessions  scylla.SessionStore
	otps      scylla.OTPStore
	blocklist scylla.BlockListStore
	attempts  service.AttemptCounter

	tokenService *service.TokenService
	otpService   *service.OTPService
	authService  *service.AuthService
	authHandler  *handler.AuthHandler

	closeOnce sync.Once
}

// NewFactory loads configuration and builds the whole dependency graph.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}
	f.sweepCtx, f.sweepCancel = context.WithCancel(context.Background())

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}
	f.initializeRepositories()
	f.initializeServices()

	util.Info("factory initialized",
		util.String("environment", cfg.Environment),
		util.String("limiter_backend", cfg.Limiter.Backend),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
		util.Bool("elasticsearch_enabled", cfg.Elasticsearch.Enabled),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)
	return f, nil
}

// initializeClients brings up the external clients. Redis and ScyllaDB are
// required; the analytics sinks come up only when enabled and a failed sink
// is fatal in production only.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisClient, err := client.NewRedisClient(f.config)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("redis client initialized and healthy")

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("scylla client initialized and healthy")

	var sinkErrors []error

	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
			util.Info("kafka producer initialized")
		}
	}

	if f.config.Clickhouse.Enabled {
		if ch, err := client.NewClickHouseClient(f.config); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := ch.HealthCheck(ctx); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("clickhouse client initialized and healthy")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if es, err := client.NewElasticsearchClient(f.config); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("elasticsearch: %w", err))
		} else if err := es.HealthCheck(ctx); err != nil {
			sinkErrors = append(sinkErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			f.esClient = es
			util.Info("elasticsearch client initialized and healthy")
		}
	}

	if len(sinkErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("audit sink initialization failed: %v", sinkErrors)
		}
		for _, err := range sinkErrors {
			util.Warn("audit sink unavailable", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeManagers() error {
	f.buckets = bucketing.NewManager(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	f.encryptor = encryption.NewManager(f.config, kmsClient)

	hasher, err := hashing.NewPasswordHasher(f.config.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	f.hasher = hasher
	f.codec = hashing.NewOTPCodec(f.config.OTP.Digits)

	f.tokenManager, err = token.NewManager(token.Config{
		AccessSecret:  f.config.Auth.AccessSecret,
		RefreshSecret: f.config.Auth.RefreshSecret,
		AccessTTL:     f.config.Auth.AccessTokenTTL,
		RefreshTTL:    f.config.Auth.RefreshTokenTTL,
		Issuer:        "agroassist-auth",
	})
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	switch f.config.Limiter.Backend {
	case "memory":
		store := limiter.NewMemoryStore()
		store.StartSweep(f.sweepCtx, f.config.OTP.SweepInterval)
		f.limiterStore = store
	default:
		f.limiterStore = limiter.NewRedisStore(f.redisClient.Client, "limiter:")
	}
	f.lockout = limiter.NewLockoutGuard(f.limiterStore, f.config.Lockout.Threshold, f.config.Lockout.Duration)
	f.throttle = limiter.NewPhoneThrottle(f.limiterStore, f.config.OTP.RequestLimit, f.config.OTP.RequestBlock)

	return nil
}

func (f *Factory) initializeRepositories() {
	f.users = scylla.NewUserRepository(f.scyllaClient, f.buckets)
	f.sessions = scylla.NewSessionRepository(f.scyllaClient, f.config.Auth.RefreshTokenTTL)
	f.otps = scylla.NewOTPRepository(f.scyllaClient)
	f.blocklist = scylla.NewBlockListRepository(f.scyllaClient)
	f.attempts = redisrepo.NewOTPAttemptCache(f.redisClient)
}

func (f *Factory) initializeServices() {
	// Typed nils must not reach the recorder's interface fields.
	var producer audit.EventProducer
	if f.kafkaProducer != nil {
		producer = f.kafkaProducer
	}
	var warehouse audit.EventWarehouse
	if f.clickhouseClient != nil {
		warehouse = f.clickhouseClient
	}
	var index audit.EventIndex
	if f.esClient != nil {
		index = f.esClient
	}
	f.recorder = audit.NewRecorder(producer, warehouse, index, f.config.Elasticsearch.Index, f.buckets)

	f.tokenService = service.NewTokenService(
		f.tokenManager,
		f.sessions,
		f.recorder,
		f.config.Auth.MaxSessions,
		f.config.Auth.ReuseWindow,
	)

	f.otpService = service.NewOTPService(
		f.otps,
		f.blocklist,
		f.attempts,
		f.codec,
		notify.NewLogSender(),
		f.throttle,
		f.recorder,
		service.OTPConfig{
			TTL:          f.config.OTP.TTL,
			MaxAttempts:  f.config.OTP.MaxAttempts,
			BlockListTTL: f.config.OTP.BlockListTTL,
		},
	)
	f.otpService.StartSweep(f.sweepCtx, f.config.OTP.SweepInterval)

	f.authService = service.NewAuthService(
		f.users,
		f.tokenService,
		f.otpService,
		f.lockout,
		f.hasher,
		f.encryptor,
		f.recorder,
		f.config.OTP.TTL,
	)

	f.authHandler = handler.NewAuthHandler(f.authService, f.otpService, f.tokenManager, f.recorder, f.config)
}

// HealthCheck probes every initialized dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if err := f.redisClient.HealthCheck(ctx); err != nil {
		healthErrors["redis"] = err
	}
	if err := f.scyllaClient.HealthCheck(); err != nil {
		healthErrors["scylla"] = err
	}
	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}
	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}
	if f.esClient != nil {
		if err := f.esClient.HealthCheck(ctx); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

// Close flushes the audit pipeline and shuts down every client.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		util.Info("shutting down factory")

		if f.recorder != nil {
			f.recorder.Close()
			if dropped := f.recorder.Dropped(); dropped > 0 {
				util.Warn("audit events dropped during runtime", util.Int("count", int(dropped)))
			}
		}
		if f.sweepCancel != nil {
			f.sweepCancel()
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("failed to close clickhouse client", util.ErrorField(err))
			}
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("failed to close kafka producer", util.ErrorField(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("failed to close redis client", util.ErrorField(err))
			}
		}
		if f.encryptor != nil {
			f.encryptor.ClearCache()
		}

		util.Sync()
	})
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) AuthHandler() *handler.AuthHandler {
	return f.authHandler
}
