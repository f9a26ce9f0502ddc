package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chimebot/pkg/logx"
)

// SummarizeConfigChange compares two snapshots and returns the changed
// section names, log fields describing the new values (the token never
// appears, only whether one is set), and the feature flags whose effective
// state flipped.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if telegramChanged(&oldCfg.Telegram, &newCfg.Telegram) {
		mark("telegram",
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.chat_id_set", newCfg.Telegram.ChatID != 0),
		)
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.Console != nl.Console ||
		ol.File.Enabled != nl.File.Enabled ||
		strings.TrimSpace(ol.File.Path) != strings.TrimSpace(nl.File.Path) {
		mark("logging",
			logx.String("logx.level", nl.Level),
			logx.Bool("logx.console", nl.Console),
			logx.Bool("logx.file_enabled", nl.File.Enabled),
		)
	}

	// Agenda and storage settings are read once at startup. They still show
	// up here so an operator sees that a restart is needed.
	if !reflect.DeepEqual(oldCfg.Agenda, newCfg.Agenda) {
		mark("agenda",
			logx.String("agenda.check_interval", strings.TrimSpace(newCfg.Agenda.CheckInterval)),
			logx.Int("agenda.queue_size", newCfg.Agenda.QueueSize),
			logx.Int("agenda.rate_per_sec", newCfg.Agenda.RatePerSec),
			logx.Int("agenda.workers", newCfg.Agenda.Workers),
		)
	}

	if !reflect.DeepEqual(normStorage(oldCfg.Storage), normStorage(newCfg.Storage)) {
		mark("storage",
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	flipped := flippedFeatures(oldCfg, newCfg)
	if len(flipped) > 0 {
		mark("features", logx.Int("features.changed_count", len(flipped)))
	}

	sort.Strings(changed)
	return changed, attrs, flipped
}

func telegramChanged(o, n *TelegramConfig) bool {
	if strings.TrimSpace(o.PollTimeout) != strings.TrimSpace(n.PollTimeout) {
		return true
	}
	if o.ChatID != n.ChatID || !reflect.DeepEqual(o.OwnerUserIDs, n.OwnerUserIDs) {
		return true
	}
	// Token contents stay out of the diff; presence is enough.
	return (strings.TrimSpace(o.Token) != "") != (strings.TrimSpace(n.Token) != "")
}

func normStorage(s StorageConfig) StorageConfig {
	s.Driver = strings.TrimSpace(s.Driver)
	s.Path = strings.TrimSpace(s.Path)
	s.BusyTimeout = strings.TrimSpace(s.BusyTimeout)
	return s
}

// flippedFeatures lists flags whose effective on/off state differs between
// the snapshots, including flags only one side declares.
func flippedFeatures(oldCfg, newCfg *Config) []string {
	names := map[string]struct{}{}
	for name := range oldCfg.Features {
		names[name] = struct{}{}
	}
	for name := range newCfg.Features {
		names[name] = struct{}{}
	}

	var out []string
	for name := range names {
		if oldCfg.FeatureEnabled(name) != newCfg.FeatureEnabled(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
