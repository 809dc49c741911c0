package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// and enforces the state-version and ownership invariants that the
// repository alone cannot.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// GetDevicesByHome retrieves all devices belonging to a home.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByHome(ctx context.Context, homeID string) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.HomeID == homeID {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByHome(ctx, homeID)
}

// GetDevicesByProtocol retrieves all devices using a specific protocol.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) GetDevicesByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Protocol == protocol {
				devices = append(devices, *d.DeepCopy())
			}
		}
		return devices, nil
	}

	return r.repo.ListByProtocol(ctx, protocol)
}

// CreateDevice creates a new device.
// It validates the device, generates an ID if needed, and persists it.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	if device.ID == "" {
		device.ID = GenerateID()
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", device.ID, "name", device.Name, "protocol", device.Protocol)
	return nil
}

// UpdateDevice updates an existing device.
// Ownership is immutable: an update carrying a different home or user
// than the stored device is rejected with ErrOwnershipImmutable.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	existing, err := r.GetDevice(ctx, device.ID)
	if err != nil {
		return err
	}

	if device.HomeID != existing.HomeID || device.UserID != existing.UserID {
		return ErrOwnershipImmutable
	}

	if err := ValidateDevice(device); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "id", device.ID, "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// ApplyState merges a state delta into the device's snapshot, enforcing
// the monotonic version invariant.
//
// Version handling:
//   - sourceVersion nil: the write always succeeds and the recorded
//     version is bumped by one.
//   - sourceVersion set: the write is accepted only if it is strictly
//     greater than the recorded version; otherwise ErrStaleState.
//
// Parameters:
//   - ctx: Context for persistence
//   - id: Device ID
//   - delta: Changed attributes to merge into the snapshot
//   - sourceVersion: Version claimed by the writer, if it carries one
//   - source: Origin of the change ("driver", "command", "api")
//
// Returns:
//   - *StateChange: The accepted change, for fanout and persistence sinks
//   - error: ErrDeviceNotFound, ErrStaleState, or a persistence error
func (r *Registry) ApplyState(ctx context.Context, id string, delta State, sourceVersion *int64, source string) (*StateChange, error) {
	r.cacheMu.Lock()
	cached, ok := r.cache[id]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrDeviceNotFound
	}

	var newVersion int64
	if sourceVersion != nil {
		if *sourceVersion <= cached.StateVersion {
			current := cached.StateVersion
			r.cacheMu.Unlock()
			return nil, fmt.Errorf("%w: got %d, have %d", ErrStaleState, *sourceVersion, current)
		}
		newVersion = *sourceVersion
	} else {
		newVersion = cached.StateVersion + 1
	}

	// Atomic cache replacement under the same lock as the version check,
	// so concurrent writers serialise on the version comparison.
	updated := cached.DeepCopy()
	if updated.State == nil {
		updated.State = make(State, len(delta))
	}
	for k, v := range delta {
		updated.State[k] = deepCopyValue(v)
	}
	now := time.Now().UTC()
	updated.StateVersion = newVersion
	updated.StateUpdatedAt = &now
	r.cache[id] = updated

	change := &StateChange{
		DeviceID:  id,
		HomeID:    updated.HomeID,
		UserID:    updated.UserID,
		Protocol:  updated.Protocol,
		Delta:     deepCopyMap(delta),
		Version:   newVersion,
		Source:    source,
		Timestamp: now,
	}
	r.cacheMu.Unlock()

	if err := r.repo.UpdateState(ctx, id, delta, newVersion); err != nil {
		return nil, err
	}

	r.logger.Debug("device state applied", "id", id, "version", newVersion, "source", source)
	return change, nil
}

// SetOnline updates the online flag for a device.
func (r *Registry) SetOnline(ctx context.Context, id string, online bool) error {
	if err := r.repo.UpdateOnline(ctx, id, online); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Online = online
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device online updated", "id", id, "online", online)
	return nil
}

// SetPaired updates the paired flag for a device.
func (r *Registry) SetPaired(ctx context.Context, id string, paired bool) error {
	if err := r.repo.UpdatePaired(ctx, id, paired); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.Paired = paired
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device paired updated", "id", id, "paired", paired)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByProtocol   map[Protocol]int
	Online       int
	Paired       int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByProtocol:   make(map[Protocol]int),
	}

	for _, d := range r.cache {
		stats.ByProtocol[d.Protocol]++
		if d.Online {
			stats.Online++
		}
		if d.Paired {
			stats.Paired++
		}
	}

	return stats
}
