package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"quizroom-service/internal/app"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
		// PublicURL is the base of the join links encoded in room QR codes.
		PublicURL string `yaml:"public_url"`
		Instance  string `yaml:"instance"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		// PubSub switches room broadcasts from the in-process hub to Redis.
		PubSub bool `yaml:"pubsub"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
	Quiz struct {
		TTL string `yaml:"ttl"`
		// Source is one of static, postgres or mongo. Empty picks the first configured store.
		Source string `yaml:"source"`
	} `yaml:"quiz"`
	Game struct {
		ResultDisplay      string `yaml:"result_display"`
		LeaderboardDisplay string `yaml:"leaderboard_display"`
		GracePeriod        string `yaml:"grace_period"`
		MaxParticipants    int    `yaml:"max_participants"`
		PersistAttempts    int    `yaml:"persist_attempts"`
		RoomRetention      string `yaml:"room_retention"`
	} `yaml:"game"`
}

// Load reads YAML config from path. A missing file yields the zero config,
// so the service can run on flags and environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// OverrideFromEnv applies QUIZ_* environment variables on top of the file
// config, e.g. QUIZ_REDIS_ADDR or QUIZ_POSTGRES_URL.
func OverrideFromEnv(cfg Config) Config {
	v := viper.New()
	v.SetEnvPrefix("QUIZ")
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
	str("server_public_url", &cfg.Server.PublicURL)
	str("server_instance", &cfg.Server.Instance)
	str("redis_addr", &cfg.Redis.Addr)
	str("redis_password", &cfg.Redis.Password)
	str("postgres_url", &cfg.Postgres.URL)
	str("mongo_uri", &cfg.Mongo.URI)
	str("mongo_database", &cfg.Mongo.Database)
	str("quiz_source", &cfg.Quiz.Source)
	str("game_grace_period", &cfg.Game.GracePeriod)
	if v.IsSet("redis_pubsub") {
		cfg.Redis.PubSub = v.GetBool("redis_pubsub")
	}
	if n := v.GetInt("game_max_participants"); n > 0 {
		cfg.Game.MaxParticipants = n
	}
	return cfg
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// GameConfig returns the engine settings, falling back to app.DefaultConfig
// for anything left unset.
func (c Config) GameConfig() app.Config {
	def := app.DefaultConfig()
	out := app.Config{
		ResultDisplay:      TTLDuration(c.Game.ResultDisplay, def.ResultDisplay),
		LeaderboardDisplay: TTLDuration(c.Game.LeaderboardDisplay, def.LeaderboardDisplay),
		GracePeriod:        TTLDuration(c.Game.GracePeriod, def.GracePeriod),
		MaxParticipants:    def.MaxParticipants,
		PersistAttempts:    def.PersistAttempts,
		PersistBackoff:     def.PersistBackoff,
		RoomRetention:      TTLDuration(c.Game.RoomRetention, def.RoomRetention),
	}
	if c.Game.MaxParticipants > 0 {
		out.MaxParticipants = c.Game.MaxParticipants
	}
	if c.Game.PersistAttempts > 0 {
		out.PersistAttempts = c.Game.PersistAttempts
	}
	return out
}

// QuizSource resolves which store quizzes are loaded from.
func (c Config) QuizSource() string {
	if c.Quiz.Source != "" {
		return c.Quiz.Source
	}
	switch {
	case c.Postgres.URL != "":
		return "postgres"
	case c.Mongo.URI != "":
		return "mongo"
	}
	return "static"
}
