package config

import (
	"fmt"
	"net/url"
	"strings"
)

func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *EngineConfig) validate() error {
	raw := strings.TrimSpace(e.APIURL)
	if raw == "" {
		return fmt.Errorf("engine.api_url cannot be empty")
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("engine.api_url is not a valid URL: %w", err)
	}
	if s := strings.TrimSpace(e.SocketURL); s != "" {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("engine.socket_url is not a valid URL: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("engine.socket_url must use ws/wss scheme, got %q", u.Scheme)
		}
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if s.PollIntervalSeconds < 1 {
		return fmt.Errorf("session.poll_interval_seconds must be >= 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
