package clifactory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/backend"
	"github.com/modernice/mnemo/backend/memory"
	"github.com/modernice/mnemo/backend/mongo"
	"github.com/modernice/mnemo/backend/nats"
	"github.com/modernice/mnemo/backend/postgres"
	"github.com/modernice/mnemo/backend/redis"
	"github.com/modernice/mnemo/backend/sqlite"
	"github.com/modernice/mnemo/codec"
	"github.com/modernice/mnemo/internal/bank"
	"golang.org/x/exp/slices"
)

// ErrUnknownBackend is returned when the configured backend is not supported.
var ErrUnknownBackend = errors.New("unknown backend")

// Config is the environment configuration of the CLI.
type Config struct {
	Backend      string `env:"MNEMO_BACKEND" envDefault:"memory"`
	SaveAttempts int    `env:"MNEMO_SAVE_ATTEMPTS" envDefault:"3"`
	PostgresURL  string `env:"POSTGRES_URL"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"mnemo.db"`
	MongoURL     string `env:"MONGO_URL"`
	RedisAddr    string `env:"REDIS_ADDR"`
	NATSURL      string `env:"NATS_URL"`
	Debug        bool   `env:"MNEMO_DEBUG"`
}

// LoadConfig reads the Config from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Factory is used by commands to provide common configuration.
type Factory struct {
	Context context.Context
	Config  Config
	Logger  *slog.Logger

	codec   *codec.Codec
	closers []func() error
}

// Option is a Factory option.
type Option func(*Factory)

// Context returns an Option that sets the Context of a Factory.
func Context(ctx context.Context) Option {
	return func(f *Factory) {
		f.Context = ctx
	}
}

// WithConfig returns an Option that sets the Config of a Factory.
func WithConfig(cfg Config) Option {
	return func(f *Factory) {
		f.Config = cfg
	}
}

// Logger returns an Option that sets the logger passed to repositories.
func Logger(l *slog.Logger) Option {
	return func(f *Factory) {
		f.Logger = l
	}
}

// New returns a new Factory.
func New(opts ...Option) *Factory {
	f := Factory{Config: Config{Backend: "memory", SaveAttempts: repository.DefaultMaxAttempts}}
	for _, opt := range opts {
		opt(&f)
	}
	if f.Context == nil {
		f.Context = context.Background()
	}
	if f.Logger == nil {
		level := slog.LevelInfo
		if f.Config.Debug {
			level = slog.LevelDebug
		}
		f.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	f.codec = codec.New(bank.NewRegistry())
	return &f
}

// Codec returns the codec for the payloads of the example bank domain.
func (f *Factory) Codec() *codec.Codec {
	return f.codec
}

type opener func(f *Factory) (repository.Backend, error)

var openers = map[string]opener{
	"memory": func(*Factory) (repository.Backend, error) {
		return memory.New(), nil
	},
	"sqlite": func(f *Factory) (repository.Backend, error) {
		b, err := sqlite.Open(f.Config.SQLitePath, f.codec)
		if err != nil {
			return nil, err
		}
		f.closers = append(f.closers, b.Close)
		return b, nil
	},
	"postgres": func(f *Factory) (repository.Backend, error) {
		var opts []postgres.Option
		if f.Config.PostgresURL != "" {
			opts = append(opts, postgres.URL(f.Config.PostgresURL))
		}
		b := postgres.New(f.codec, opts...)
		if err := b.Connect(f.Context); err != nil {
			return nil, err
		}
		f.closers = append(f.closers, func() error {
			b.Close()
			return nil
		})
		return b, nil
	},
	"mongo": func(f *Factory) (repository.Backend, error) {
		var opts []mongo.Option
		if f.Config.MongoURL != "" {
			opts = append(opts, mongo.URL(f.Config.MongoURL))
		}
		b := mongo.New(f.codec, opts...)
		if _, err := b.Connect(f.Context); err != nil {
			return nil, err
		}
		f.closers = append(f.closers, func() error {
			return b.Disconnect(context.Background())
		})
		return b, nil
	},
}

// Backends returns the names of the supported backends in lexical order.
func Backends() []string {
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Backend opens the configured backend. If a Redis address is configured,
// snapshots are stored in Redis instead.
func (f *Factory) Backend() (repository.Backend, error) {
	open, ok := openers[f.Config.Backend]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownBackend, f.Config.Backend, Backends())
	}

	b, err := open(f)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", f.Config.Backend, err)
	}

	if f.Config.RedisAddr == "" {
		return b, nil
	}

	snapshots := redis.NewSnapshotStore(f.codec, redis.Addr(f.Config.RedisAddr))
	f.closers = append(f.closers, snapshots.Close)

	return backend.Compose(b, snapshots), nil
}

// Repository returns a repository for the configured backend. If a NATS URL
// is configured, saved events are published to NATS.
func (f *Factory) Repository(cache *dispatch.Cache) (*repository.Repository, error) {
	b, err := f.Backend()
	if err != nil {
		return nil, err
	}

	opts := []repository.Option{
		repository.MaxAttempts(f.Config.SaveAttempts),
		repository.Dispatchers(cache),
		repository.Logger(f.Logger),
	}

	if f.Config.NATSURL != "" {
		bus := nats.New(f.codec, nats.URL(f.Config.NATSURL), nats.Logger(f.Logger))
		f.closers = append(f.closers, bus.Close)
		opts = append(opts, repository.WithPublisher(bus))
	}

	return repository.New(b, opts...), nil
}

// Close closes everything that was opened by the Factory.
func (f *Factory) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}
