package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	probing "github.com/go-ping/ping"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

//---------------- State Store ----------------

// StateStore is the externally-fed state the screens render from. The
// network integrations and collectors write, the render loop reads; the
// map is lock-free so the render path never waits on a collector.
type StateStore struct {
	m *xsync.MapOf[string, string]
}

func NewStateStore() *StateStore {
	return &StateStore{m: xsync.NewMapOf[string, string]()}
}

func (s *StateStore) Get(key string) string {
	v, _ := s.m.Load(key)
	return v
}

func (s *StateStore) GetFloat(key string, fallback float64) float64 {
	v, ok := s.m.Load(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s *StateStore) Set(key, value string) { s.m.Store(key, value) }

// Snapshot copies the store for the status endpoint.
func (s *StateStore) Snapshot() map[string]string {
	out := make(map[string]string, s.m.Size())
	s.m.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out
}

//---------------- Notifications ----------------

// notificationFeed keeps the most recent integration events for the
// dashboard badge and the status endpoint.
type notificationFeed struct {
	mu    sync.Mutex
	items []string
	limit int
}

func newNotificationFeed(limit int) *notificationFeed {
	if limit <= 0 {
		limit = 16
	}
	return &notificationFeed{limit: limit}
}

func (f *notificationFeed) Add(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, msg)
	if len(f.items) > f.limit {
		f.items = f.items[len(f.items)-f.limit:]
	}
}

func (f *notificationFeed) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.items))
	copy(out, f.items)
	return out
}

func (f *notificationFeed) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

//---------------- Collectors ----------------

// collector periodically refreshes device and integration state. It is
// deliberately fire-and-forget: the pipeline never blocks on it.
type collector struct {
	log      *zap.SugaredLogger
	store    *StateStore
	history  *telemetryHistory
	notes    *notificationFeed
	interval time.Duration

	bridgeHost     string
	thermostatHost string
}

func newCollector(log *zap.Logger, store *StateStore, history *telemetryHistory, notes *notificationFeed, cfg *Config) *collector {
	return &collector{
		log:            log.Sugar(),
		store:          store,
		history:        history,
		notes:          notes,
		interval:       time.Duration(cfg.CollectIntervalSec) * time.Second,
		bridgeHost:     cfg.BridgeHost,
		thermostatHost: cfg.ThermostatHost,
	}
}

// Run loops until the context is cancelled.
func (c *collector) Run(ctx context.Context) {
	// pairing session identity is minted once per boot
	c.store.Set("pairing_session", uuid.NewString())
	c.store.Set("pairing_state", "idle")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.collectOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *collector) collectOnce(ctx context.Context) {
	c.collectPower()
	c.collectThermal()
	if c.bridgeHost != "" {
		c.probeHost(ctx, "bridge", c.bridgeHost)
	}
	if c.thermostatHost != "" {
		c.probeHost(ctx, "thermostat", c.thermostatHost)
	}
}

// collectPower reads the battery gauge from sysfs.
func (c *collector) collectPower() {
	soc := readSysfsInt("/sys/class/power_supply/battery/capacity", -1)
	if soc >= 0 {
		c.store.Set("batt_soc", strconv.Itoa(soc))
	}
	uv := readSysfsInt("/sys/class/power_supply/battery/voltage_now", -1)
	if uv >= 0 {
		c.store.Set("batt_volt", fmt.Sprintf("%.2f", float64(uv)/1e6))
	}
	status := readSysfsString("/sys/class/power_supply/battery/status")
	if status != "" {
		c.store.Set("batt_status", status)
	}
	if soc >= 0 {
		c.history.Add(float64(soc))
	}
}

func (c *collector) collectThermal() {
	milli := readSysfsInt("/sys/class/thermal/thermal_zone0/temp", -1)
	if milli >= 0 {
		c.store.Set("soc_temp", fmt.Sprintf("%.1f", float64(milli)/1000))
	}
}

// probeHost pings an integration endpoint and records reachability and
// round-trip time under <name>_online / <name>_rtt_ms.
func (c *collector) probeHost(ctx context.Context, name, host string) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		c.log.Warnw("pinger setup failed", "host", host, "err", err)
		return
	}
	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false)

	wasOnline := c.store.Get(name+"_online") == "1"
	if err := pinger.Run(); err != nil || pinger.Statistics().PacketsRecv == 0 {
		c.store.Set(name+"_online", "0")
		if wasOnline {
			c.notes.Add(name + " unreachable")
		}
		return
	}
	stats := pinger.Statistics()
	c.store.Set(name+"_online", "1")
	c.store.Set(name+"_rtt_ms", strconv.FormatInt(stats.AvgRtt.Milliseconds(), 10))
	if !wasOnline {
		c.notes.Add(name + " back online")
	}
}

func readSysfsInt(path string, fallback int) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fallback
	}
	return v
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
