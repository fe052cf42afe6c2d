package config

// Config is the top-level merq configuration.
type Config struct {
	// Path is the root file Load read; Watch re-reads it from here.
	Path string `toml:"-"`

	App       AppConfig       `toml:"app"`
	Engine    EngineConfig    `toml:"engine"`
	Session   SessionConfig   `toml:"session"`
	Guard     GuardConfig     `toml:"guard"`
	SquareOff SquareOffConfig `toml:"square_off"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Catalog   CatalogConfig   `toml:"catalog"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// EngineConfig points at the remote trading engine.
type EngineConfig struct {
	APIURL             string `toml:"api_url"`
	SocketURL          string `toml:"socket_url"`
	Username           string `toml:"username"`
	Password           string `toml:"password"`
	APIToken           string `toml:"api_token"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// SessionConfig tunes the live-session transports.
type SessionConfig struct {
	PollIntervalSeconds  int `toml:"poll_interval_seconds"`
	SocketReconnectMax   int `toml:"socket_reconnect_max"`
	SocketBackoffSeconds int `toml:"socket_backoff_seconds"`
	LogBuffer            int `toml:"log_buffer"`
}

// GuardConfig seeds the safety guard before the preference cache is read.
type GuardConfig struct {
	Enabled bool    `toml:"enabled"`
	MaxLoss float64 `toml:"max_loss"`
}

type SquareOffConfig struct {
	MaxInFlight int `toml:"max_in_flight"`
	RetryPasses int `toml:"retry_passes"`
}

type StoreConfig struct {
	PrefsPath   string `toml:"prefs_path"`
	JournalPath string `toml:"journal_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type CatalogConfig struct {
	Path string `toml:"path"`
}
