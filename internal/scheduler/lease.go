// Package scheduler implements the single-leader election and run-key
// dedupe primitives that keep scheduled background work (briefings,
// research sweeps, proactive nudges) from running twice when multiple
// Fae processes share a data directory.
package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/saorsa-labs/fae/internal/ferr"
	"github.com/saorsa-labs/fae/internal/observability"
)

// LeaseConfig tunes leadership lease timing.
type LeaseConfig struct {
	TTLSecs       int64
	HeartbeatSecs int64
}

// DefaultLeaseConfig matches the original scheduler's defaults: a 15s
// lease renewed roughly every 5s.
func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{TTLSecs: 15, HeartbeatSecs: 5}
}

// Decision is the outcome of one acquire-or-renew attempt.
type Decision struct {
	IsLeader        bool
	Takeover        bool
	LeaderInstance  string
	LeaseExpiresAt  int64
}

type leaseRecord struct {
	InstanceID     string `json:"instance_id"`
	PID            int    `json:"pid"`
	StartedAt      int64  `json:"started_at"`
	HeartbeatAt    int64  `json:"heartbeat_at"`
	LeaseExpiresAt int64  `json:"lease_expires_at"`
}

// LeaderLease is a file-backed lease ensuring a single active scheduler
// leader across cooperating processes sharing leasePath.
type LeaderLease struct {
	instanceID string
	pid        int
	leasePath  string
	config     LeaseConfig
	log        *observability.Logger
	metrics    *observability.MetricsCollector
}

// NewLeaderLease creates a lease controller for one scheduler instance.
func NewLeaderLease(instanceID string, pid int, leasePath string, config LeaseConfig) *LeaderLease {
	return &LeaderLease{instanceID: instanceID, pid: pid, leasePath: leasePath, config: config}
}

// WithLogger attaches a logger that receives acquire/renew/takeover events.
func (l *LeaderLease) WithLogger(log *observability.Logger) *LeaderLease {
	l.log = log
	return l
}

// WithMetrics attaches a collector that records lease renewal latency and
// acquire/renew/takeover counts.
func (l *LeaderLease) WithMetrics(m *observability.MetricsCollector) *LeaderLease {
	l.metrics = m
	return l
}

func (l *LeaderLease) logEvent(event string, args ...any) {
	if l.metrics != nil {
		l.metrics.Increment("scheduler." + event)
	}
	if l.log == nil {
		return
	}
	l.log.SchedulerEvent(event, l.instanceID, args...)
}

// TryAcquireOrRenewAt attempts to take or renew leadership as of nowMs
// (epoch milliseconds).
func (l *LeaderLease) TryAcquireOrRenewAt(nowMs int64) (Decision, error) {
	start := time.Now()
	if l.metrics != nil {
		defer func() {
			l.metrics.Record(observability.MetricLatency, float64(time.Since(start).Milliseconds()), observability.Labels{"op": "scheduler_lease_renew"})
		}()
	}

	ttlMs := l.config.TTLSecs * 1000
	existing, err := readLeaseRecord(l.leasePath)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case existing == nil:
		rec := l.buildRecord(nowMs, nowMs, nowMs+ttlMs)
		if err := writeLeaseRecord(l.leasePath, rec); err != nil {
			return Decision{}, err
		}
		l.logEvent("lease_acquired")
		return Decision{IsLeader: true, Takeover: false}, nil

	case existing.InstanceID == l.instanceID:
		rec := l.buildRecord(existing.StartedAt, nowMs, nowMs+ttlMs)
		if err := writeLeaseRecord(l.leasePath, rec); err != nil {
			return Decision{}, err
		}
		l.logEvent("lease_renewed")
		return Decision{IsLeader: true, Takeover: false}, nil

	case existing.LeaseExpiresAt <= nowMs:
		rec := l.buildRecord(nowMs, nowMs, nowMs+ttlMs)
		if err := writeLeaseRecord(l.leasePath, rec); err != nil {
			return Decision{}, err
		}
		l.logEvent("lease_takeover", "previous_leader", existing.InstanceID)
		return Decision{IsLeader: true, Takeover: true}, nil

	default:
		return Decision{
			IsLeader:       false,
			LeaderInstance: existing.InstanceID,
			LeaseExpiresAt: existing.LeaseExpiresAt,
		}, nil
	}
}

func (l *LeaderLease) buildRecord(startedAt, heartbeatAt, leaseExpiresAt int64) leaseRecord {
	return leaseRecord{
		InstanceID:     l.instanceID,
		PID:            l.pid,
		StartedAt:      startedAt,
		HeartbeatAt:    heartbeatAt,
		LeaseExpiresAt: leaseExpiresAt,
	}
}

func readLeaseRecord(path string) (*leaseRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ferr.Lifecycle("read scheduler leader lease: %w", err)
	}
	var rec leaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil // malformed lease is treated as absent, not fatal
	}
	return &rec, nil
}

func writeLeaseRecord(path string, rec leaseRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ferr.Lifecycle("create scheduler lease directory: %w", err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ferr.Lifecycle("serialize scheduler lease: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return ferr.Lifecycle("write scheduler lease temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return ferr.Lifecycle("finalize scheduler lease file: %w", err)
	}
	return nil
}

// NowEpochMillis returns the current time as epoch milliseconds.
func NowEpochMillis() int64 {
	return time.Now().UnixMilli()
}
