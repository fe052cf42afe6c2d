package config

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9921"
	defaultEngineAPI        = "http://localhost:5001/api/algo"
	defaultEngineTimeout    = 10
	defaultPollInterval     = 2
	defaultSocketReconnects = 5
	defaultSocketBackoff    = 1
	defaultLogBuffer        = 200
	defaultGuardMaxLoss     = 1000
	defaultExitInFlight     = 4
	defaultPrefsPath        = "data/merq-prefs.db"
	defaultJournalPath      = "data/merq-journal.db"
	defaultCatalogPath      = "configs/strategies.yaml"
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Engine.applyDefaults()
	c.Session.applyDefaults()
	c.Guard.applyDefaults()
	c.SquareOff.applyDefaults()
	c.Store.applyDefaults()
	c.Catalog.applyDefaults()
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (e *EngineConfig) applyDefaults() {
	if e.APIURL == "" {
		e.APIURL = defaultEngineAPI
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = defaultEngineTimeout
	}
}

func (s *SessionConfig) applyDefaults() {
	if s.PollIntervalSeconds <= 0 {
		s.PollIntervalSeconds = defaultPollInterval
	}
	if s.SocketReconnectMax <= 0 {
		s.SocketReconnectMax = defaultSocketReconnects
	}
	if s.SocketBackoffSeconds <= 0 {
		s.SocketBackoffSeconds = defaultSocketBackoff
	}
	if s.LogBuffer <= 0 {
		s.LogBuffer = defaultLogBuffer
	}
}

func (g *GuardConfig) applyDefaults() {
	if g.MaxLoss <= 0 {
		g.MaxLoss = defaultGuardMaxLoss
	}
}

func (s *SquareOffConfig) applyDefaults() {
	if s.MaxInFlight <= 0 {
		s.MaxInFlight = defaultExitInFlight
	}
	if s.RetryPasses < 0 {
		s.RetryPasses = 0
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.PrefsPath == "" {
		s.PrefsPath = defaultPrefsPath
	}
	if s.JournalPath == "" {
		s.JournalPath = defaultJournalPath
	}
}

func (c *CatalogConfig) applyDefaults() {
	if c.Path == "" {
		c.Path = defaultCatalogPath
	}
}
