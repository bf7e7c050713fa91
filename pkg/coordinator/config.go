package coordinator

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/arzzra/call_session/pkg/session"
)

// Config конфигурация координатора. Значения читаются из окружения;
// нулевые поля заменяются значениями по умолчанию при валидации.
type Config struct {
	// Таймауты жизненного цикла
	ResponseTimeout time.Duration `env:"COORD_RESPONSE_TIMEOUT" envDefault:"32s"`
	AcceptTimeout   time.Duration `env:"COORD_ACCEPT_TIMEOUT" envDefault:"60s"`
	MediaTimeout    time.Duration `env:"COORD_MEDIA_TIMEOUT" envDefault:"10s"`
	TeardownTimeout time.Duration `env:"COORD_TEARDOWN_TIMEOUT" envDefault:"5s"`

	// GracePeriod время хранения завершенного контекста для поглощения
	// поздних дубликатов
	GracePeriod time.Duration `env:"COORD_GRACE_PERIOD" envDefault:"30s"`

	// Workers количество воркеров конвейера; события одной сессии
	// всегда попадают к одному воркеру
	Workers int `env:"COORD_WORKERS" envDefault:"8"`

	// QueueDepth глубина очереди событий воркера
	QueueDepth int `env:"COORD_QUEUE_DEPTH" envDefault:"256"`

	// SubscriberBuffer буфер канала подписчика жизненных событий
	SubscriberBuffer int `env:"COORD_SUBSCRIBER_BUFFER" envDefault:"128"`

	// TrailDepth глубина диагностического журнала на сессию
	TrailDepth int `env:"COORD_TRAIL_DEPTH" envDefault:"64"`

	// EnableMetrics включает Prometheus метрики
	EnableMetrics bool `env:"COORD_METRICS" envDefault:"true"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:  DefaultResponseTimeout,
		AcceptTimeout:    DefaultAcceptTimeout,
		MediaTimeout:     DefaultMediaTimeout,
		TeardownTimeout:  DefaultTeardownTimeout,
		GracePeriod:      session.DefaultGracePeriod,
		Workers:          8,
		QueueDepth:       256,
		SubscriberBuffer: defaultSubscriberBuffer,
		TrailDepth:       defaultTrailDepth,
		EnableMetrics:    true,
	}
}

// LoadConfig читает конфигурацию из переменных окружения
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("чтение конфигурации из окружения: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию и подставляет значения по умолчанию
// вместо нулевых
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = def.ResponseTimeout
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = def.AcceptTimeout
	}
	if c.MediaTimeout <= 0 {
		c.MediaTimeout = def.MediaTimeout
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = def.TeardownTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = def.GracePeriod
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	if c.TrailDepth <= 0 {
		c.TrailDepth = def.TrailDepth
	}
	if c.Workers > 1024 {
		return fmt.Errorf("слишком много воркеров: %d", c.Workers)
	}
	return nil
}

// timerDurations возвращает отображение вида таймера на длительность
func (c Config) timerDurations() map[TimerKind]time.Duration {
	return map[TimerKind]time.Duration{
		TimerResponse: c.ResponseTimeout,
		TimerAccept:   c.AcceptTimeout,
		TimerMedia:    c.MediaTimeout,
		TimerTeardown: c.TeardownTimeout,
	}
}
