package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv layers environment overrides onto a parsed config. Secrets stay
// out of the config file this way; a committed config.json can hold
// everything but the token.
//
//	CHIMEBOT_TOKEN    overrides telegram.token
//	CHIMEBOT_CHAT_ID  overrides telegram.chat_id
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if v := strings.TrimSpace(os.Getenv("CHIMEBOT_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("CHIMEBOT_CHAT_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("CHIMEBOT_CHAT_ID: invalid chat id %q: %w", v, err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}
