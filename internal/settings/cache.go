package settings

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mailfold/mailfold/internal/audit"
	"github.com/mailfold/mailfold/internal/metrics"
)

// DefaultRefreshInterval is how long a cached snapshot is served before a
// reload is attempted.
const DefaultRefreshInterval = 60 * time.Second

// loadTimeout bounds one refresh against the backing store.
const loadTimeout = 15 * time.Second

// Cache serves ServerSettings snapshots with a time-bounded cached view.
//
// Refreshes are single-flight: at most one load against the backing store
// runs at a time, and callers arriving while a refresh is in flight get the
// previous snapshot instead of blocking. Only the very first load, when no
// snapshot exists yet, blocks callers.
//
// Store failures never surface to callers: the last good snapshot is
// served if one exists, otherwise a defaults-only snapshot, and the
// failure is recorded as a warning on the audit sink.
type Cache struct {
	store    Store
	sink     audit.Sink
	interval time.Duration
	now      func() time.Time

	group    singleflight.Group
	snapshot atomic.Pointer[ServerSettings]
}

// NewCache creates a Cache over the given store. A zero interval selects
// DefaultRefreshInterval.
func NewCache(store Store, sink audit.Sink, interval time.Duration) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Cache{
		store:    store,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Get returns the current settings snapshot, refreshing it from the store
// when the cached value is older than the refresh interval.
func (c *Cache) Get(ctx context.Context) *ServerSettings {
	snap := c.snapshot.Load()
	now := c.now()

	if snap != nil && now.Sub(snap.LoadedAt) < c.interval {
		return snap
	}

	ch := c.group.DoChan("settings", func() (interface{}, error) {
		return c.load(), nil
	})

	if snap == nil {
		// First load: there is nothing usable to return yet.
		select {
		case res := <-ch:
			return res.Val.(*ServerSettings)
		case <-ctx.Done():
			return c.defaults()
		}
	}

	// Stale but usable: hand back the previous snapshot and let the
	// refresh complete in the background.
	select {
	case res := <-ch:
		return res.Val.(*ServerSettings)
	default:
		return snap
	}
}

// Refresh forces a fresh load from the store, bypassing the TTL. The
// returned snapshot is also installed as the cached value.
func (c *Cache) Refresh(_ context.Context) *ServerSettings {
	res, _, _ := c.group.Do("settings", func() (interface{}, error) {
		return c.load(), nil
	})
	return res.(*ServerSettings)
}

// RestartSignal reads the RestartRequested marker directly from the store,
// bypassing the cache TTL so the reload supervisor's poll sees changes
// promptly. The zero time is returned when no marker is set.
func (c *Cache) RestartSignal(ctx context.Context) (time.Time, error) {
	rec, found, err := c.store.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if !found || rec.RestartRequested == nil {
		return time.Time{}, nil
	}
	return *rec.RestartRequested, nil
}

// load performs one refresh cycle: read the record, heal missing fields,
// best-effort write-back, build and install the snapshot. It never fails;
// on store errors it falls back to the last good snapshot or defaults.
func (c *Cache) load() *ServerSettings {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	rec, found, err := c.store.Load(ctx)
	if err != nil {
		metrics.SettingsRefreshFailures.Inc()
		c.sink.Record(audit.LevelWarning, "failed to load settings from store", err, "settings")
		if last := c.snapshot.Load(); last != nil {
			return last
		}
		snap := c.defaults()
		c.snapshot.Store(snap)
		return snap
	}

	if rec == nil {
		rec = &Record{}
	}
	healed := healRecord(rec)
	if !found || healed {
		// Self-healing schema migration: persist the injected defaults.
		// Best-effort; in-memory defaults are usable either way.
		if err := c.store.Save(ctx, rec); err != nil {
			c.sink.Record(audit.LevelWarning, "failed to write back settings defaults", err, "settings")
		} else {
			slog.Info("initialized settings record with default values")
		}
	}

	snap := c.build(rec)
	c.snapshot.Store(snap)
	return snap
}

// healRecord injects defaults for absent fields and reports whether
// anything was injected.
func healRecord(rec *Record) bool {
	healed := false

	healString := func(p **string, def string) {
		if *p == nil {
			v := def
			*p = &v
			healed = true
		}
	}
	healBool := func(p **bool) {
		if *p == nil {
			v := false
			*p = &v
			healed = true
		}
	}

	healString(&rec.ServerName, "localhost")
	healBool(&rec.EnableSpamFiltering)
	healString(&rec.SpamhausKey, "")
	healBool(&rec.EnableSpfCheck)
	healBool(&rec.EnableDkimCheck)
	healBool(&rec.EnableDmarcCheck)
	healString(&rec.SendGridApiKey, "")
	healString(&rec.SendGridFromEmail, "")
	healString(&rec.DomainsJson, "")
	healBool(&rec.DoNotSaveMessages)

	return healed
}

// build converts a healed record into an immutable snapshot.
func (c *Cache) build(rec *Record) *ServerSettings {
	snap := &ServerSettings{
		ServerName:          *rec.ServerName,
		EnableSpamFiltering: *rec.EnableSpamFiltering,
		SpamhausKey:         *rec.SpamhausKey,
		EnableSpfCheck:      *rec.EnableSpfCheck,
		EnableDkimCheck:     *rec.EnableDkimCheck,
		EnableDmarcCheck:    *rec.EnableDmarcCheck,
		SendGridApiKey:      *rec.SendGridApiKey,
		SendGridFromEmail:   *rec.SendGridFromEmail,
		DoNotSaveMessages:   *rec.DoNotSaveMessages,
		LoadedAt:            c.now(),
	}
	if rec.RestartRequested != nil {
		snap.RestartRequested = *rec.RestartRequested
	}

	if *rec.DomainsJson != "" {
		var domains []DomainConfig
		if err := json.Unmarshal([]byte(*rec.DomainsJson), &domains); err != nil {
			c.sink.Record(audit.LevelWarning, "failed to parse domain configuration", err, "settings")
		} else {
			snap.Domains = domains
		}
	}

	for _, problem := range snap.Validate() {
		slog.Warn("settings validation", "problem", problem)
	}

	return snap
}

// defaults returns a defaults-only snapshot for when nothing has ever been
// loaded successfully.
func (c *Cache) defaults() *ServerSettings {
	return &ServerSettings{
		ServerName: "localhost",
		LoadedAt:   c.now(),
	}
}
