package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Store abstracts the cache backend.
type Store interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// Recorder receives hit/miss observations.
type Recorder interface {
	ObserveCacheLookup(hit bool)
}

// Service applies the enabled flag and default TTL over a Store. Cache
// failures are logged and reported, never fatal to the caller's request.
// A nil *Service is disabled.
type Service struct {
	store      Store
	metrics    Recorder
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

func NewService(store Store, metrics Recorder, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *Service {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.store != nil
}

// Get reports whether the key was found and decoded into dest.
func (s *Service) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	err := s.store.Get(ctx, key, dest)
	hit := err == nil
	if s.metrics != nil {
		s.metrics.ObserveCacheLookup(hit)
	}
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores value. A non-positive ttl uses the default.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	err := s.store.Set(ctx, key, value, ttl)
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Invalidate removes cached values matching pattern.
func (s *Service) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.store.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// =============================================================================
// PREVIEW KEYS
// =============================================================================

const previewPrefix = "calc:preview"

// PreviewKey identifies one calculation preview. params are folded into a
// digest in sorted order, so equal requests share a key.
func PreviewKey(employeeID, periodID, date string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s;", k, params[k])
	}
	digest := hex.EncodeToString(h.Sum(nil))[:16]
	return strings.Join([]string{previewPrefix, employeeID, periodID, date, digest}, ":")
}

// EmployeePattern matches every preview of an employee.
func EmployeePattern(employeeID string) string {
	return previewPrefix + ":" + employeeID + ":*"
}
