package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tickline-io/tickline/internal/cache"
	"github.com/tickline-io/tickline/internal/models"
)

// ErrNoCalendar is returned by sources when a tenant has no calendar defined.
var ErrNoCalendar = errors.New("calendar: no calendar configured")

// Source supplies raw calendar configurations by tenant.
type Source interface {
	CalendarConfig(ctx context.Context, tenantID string) (*models.CalendarConfig, error)
}

// Provider resolves compiled calendars by tenant. Implementations cache;
// Invalidate is the hook configuration updates must call.
type Provider interface {
	Calendar(ctx context.Context, tenantID string) (*Business, error)
	Invalidate(ctx context.Context, tenantID string)
}

// DirSource loads tenant calendars from a directory of YAML files named
// <tenantID>.yaml.
type DirSource struct {
	dir string
}

// NewDirSource creates a directory-backed calendar source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// CalendarConfig reads and parses the tenant's calendar file.
func (s *DirSource) CalendarConfig(ctx context.Context, tenantID string) (*models.CalendarConfig, error) {
	path := filepath.Join(s.dir, tenantID+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNoCalendar)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar for tenant %s: %w", tenantID, err)
	}
	var cfg models.CalendarConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: tenant %s: %v", ErrCalendarResolution, tenantID, err)
	}
	if cfg.ID == "" {
		cfg.ID = tenantID
	}
	return &cfg, nil
}

// CachedProvider compiles and caches calendars per tenant. A local TTL cache
// holds compiled calendars; an optional shared Redis cache holds the raw
// configuration so invalidation propagates across engine instances.
type CachedProvider struct {
	source Source
	local  *cache.Local
	shared *cache.Redis
	logger *log.Logger
}

// ProviderOption configures a CachedProvider.
type ProviderOption func(*CachedProvider)

// WithSharedCache attaches the cross-instance Redis cache.
func WithSharedCache(r *cache.Redis) ProviderOption {
	return func(p *CachedProvider) { p.shared = r }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) ProviderOption {
	return func(p *CachedProvider) { p.logger = l }
}

// NewCachedProvider creates a provider over the given source.
func NewCachedProvider(source Source, ttl time.Duration, opts ...ProviderOption) *CachedProvider {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	p := &CachedProvider{
		source: source,
		local:  cache.NewLocal(ttl),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func calendarKey(tenantID string) string {
	return "calendar:" + tenantID
}

// Calendar returns the tenant's compiled calendar. Missing or unresolvable
// configurations degrade to the all-hours fallback with a logged warning; the
// fallback is cached like any other result so a broken tenant does not hammer
// the source.
func (p *CachedProvider) Calendar(ctx context.Context, tenantID string) (*Business, error) {
	key := calendarKey(tenantID)
	if v, ok := p.local.Get(key); ok {
		return v.(*Business), nil
	}

	cfg, err := p.loadConfig(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNoCalendar) {
			p.logger.Printf("calendar: tenant %s has no calendar, treating all time as business time", tenantID)
			b := AllHours()
			p.local.Set(key, b)
			return b, nil
		}
		if errors.Is(err, ErrCalendarResolution) {
			p.logger.Printf("calendar: tenant %s: %v, falling back to wall-clock", tenantID, err)
			b := AllHours()
			p.local.Set(key, b)
			return b, nil
		}
		return nil, err
	}

	b, err := Compile(cfg, p.logger)
	if err != nil {
		p.logger.Printf("calendar: tenant %s: %v, falling back to wall-clock", tenantID, err)
	}
	p.local.Set(key, b)
	return b, nil
}

func (p *CachedProvider) loadConfig(ctx context.Context, tenantID string) (*models.CalendarConfig, error) {
	key := calendarKey(tenantID)
	if p.shared != nil {
		var cfg models.CalendarConfig
		err := p.shared.GetJSON(ctx, key, &cfg)
		if err == nil {
			return &cfg, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Printf("calendar: shared cache read failed for tenant %s: %v", tenantID, err)
		}
	}

	cfg, err := p.source.CalendarConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if p.shared != nil {
		if err := p.shared.SetJSON(ctx, key, cfg); err != nil {
			p.logger.Printf("calendar: shared cache write failed for tenant %s: %v", tenantID, err)
		}
	}
	return cfg, nil
}

// Invalidate drops the tenant's cached calendar. Configuration update paths
// must call this so the next lookup recompiles.
func (p *CachedProvider) Invalidate(ctx context.Context, tenantID string) {
	key := calendarKey(tenantID)
	p.local.Delete(key)
	if p.shared != nil {
		if err := p.shared.Delete(ctx, key); err != nil {
			p.logger.Printf("calendar: shared cache invalidation failed for tenant %s: %v", tenantID, err)
		}
	}
}

// StaticProvider serves fixed calendars, primarily for tests.
type StaticProvider struct {
	Calendars map[string]*Business
}

// Calendar returns the tenant's calendar or the all-hours fallback.
func (p *StaticProvider) Calendar(ctx context.Context, tenantID string) (*Business, error) {
	if b, ok := p.Calendars[tenantID]; ok {
		return b, nil
	}
	return AllHours(), nil
}

// Invalidate is a no-op for static calendars.
func (p *StaticProvider) Invalidate(ctx context.Context, tenantID string) {}
