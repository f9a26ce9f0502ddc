package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "chimebot/pkg/logx"
)

// Manager loads the config file, hands out the current snapshot, and feeds
// subscribers when Watch sees the file change on disk.
type Manager struct {
	path string

	mu      sync.RWMutex
	current *Config
	seen    uint64 // content hash of the last committed config

	// subMu guards subs and keeps publish from racing a concurrent
	// Unsubscribe close.
	subMu sync.Mutex
	subs  []chan *Config

	log      logx.Logger
	validate func(ctx context.Context, cfg *Config) error
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs the gate Watch applies before committing a changed
// file. A rejected config is logged and the previous one stays live.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and decodes the file without committing it.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// A second document (concatenated JSON) is a malformed file, not extra
	// config.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load parses the file and makes the result the current snapshot.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.current = cfg
	m.seen = fingerprint(cfg)
	m.mu.Unlock()
}

// fingerprint hashes the canonical JSON form of a snapshot so reloads with
// unchanged content can be skipped. Zero is reserved for "nothing seen".
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe registers a buffered channel that receives each committed config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (m *Manager) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs[i] = m.subs[len(m.subs)-1]
		m.subs[len(m.subs)-1] = nil
		m.subs = m.subs[:len(m.subs)-1]
		close(ch)
		return
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		if ch == nil {
			continue
		}
		m.offer(ch, cfg)
	}
}

// offer delivers cfg without blocking. A full buffer surrenders its oldest
// entry first; a subscriber only ever needs the newest config anyway.
func (m *Manager) offer(ch chan *Config, cfg *Config) {
	select {
	case ch <- cfg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- cfg:
	default:
		m.log.Debug("config update dropped, subscriber stalled",
			logx.Int("queue_cap", cap(ch)))
	}
}

const (
	watchDebounce   = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch follows the config file until ctx ends. File events are debounced
// (editors tend to write in bursts), unchanged content is skipped by hash,
// and the validator runs before anything is committed or published. A broken
// watcher is recreated with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	delay := watchBackoffMin

	var pendMu sync.Mutex
	var pending *time.Timer
	schedule := func() {
		pendMu.Lock()
		defer pendMu.Unlock()
		if pending != nil {
			pending.Stop()
		}
		m.log.Debug("config change detected", logx.String("path", m.path))
		pending = time.AfterFunc(watchDebounce, func() { m.reload(ctx) })
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.Err(err), logx.String("dir", dir))
			if !sleepBackoff(ctx, &delay, rng) {
				return nil
			}
			continue
		}

		delay = watchBackoffMin
		m.log.Debug("config watcher running", logx.String("file", m.path))

		alive := true
		for alive {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil

			case ev, ok := <-w.Events:
				if !ok {
					alive = false
					break
				}
				// Basename match survives absolute/relative path differences
				// and editors that replace the file via rename.
				if !strings.EqualFold(filepath.Base(ev.Name), base) {
					break
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					schedule()
				}

			case werr, ok := <-w.Errors:
				if !ok {
					alive = false
					break
				}
				if werr == nil {
					break
				}
				// Overflow means events were lost; reload once instead of
				// guessing which ones.
				if strings.Contains(strings.ToLower(werr.Error()), "overflow") {
					m.log.Warn("config watch overflow, forcing reload", logx.Err(werr))
					schedule()
					break
				}
				m.log.Warn("config watch error", logx.Err(werr))
				if strings.Contains(strings.ToLower(werr.Error()), "closed") {
					alive = false
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped, recreating", logx.String("dir", dir))
		if !sleepBackoff(ctx, &delay, rng) {
			return nil
		}
	}
	return nil
}

// reload re-parses the file, skips no-op content by hash, validates, then
// commits and publishes the new snapshot.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	h := fingerprint(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.seen
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config content unchanged, skipping")
		return
	}

	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected, keeping previous", logx.String("path", m.path), logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}

// sleepBackoff waits out the current delay (plus jitter), doubling it for
// next time. Returns false when ctx ended during the wait.
func sleepBackoff(ctx context.Context, delay *time.Duration, rng *rand.Rand) bool {
	wait := *delay + time.Duration(rng.Int63n(int64(*delay/2)+1))
	*delay *= 2
	if *delay > watchBackoffMax {
		*delay = watchBackoffMax
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}
