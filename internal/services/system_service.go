package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Probe outcomes.
const (
	ProbeOK       = "ok"
	ProbeDegraded = "degraded"
	ProbeDown     = "down"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// BuildInfo is the release metadata echoed by the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// Probe checks one dependency. Only a failing Critical probe makes the service unready;
// checkout still commits when Pub/Sub or the archive bucket is down.
type Probe struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) error
}

// ProbeResult is the outcome of one Probe.
type ProbeResult struct {
	Name     string
	Critical bool
	Status   string
	Error    string
	Latency  time.Duration
}

// ReadinessReport aggregates the probes run for one readiness request. Probes are sorted by name.
type ReadinessReport struct {
	Ready     bool
	Status    string
	Probes    []ProbeResult
	Build     BuildInfo
	Uptime    time.Duration
	CheckedAt time.Time
}

// SystemServiceDeps bundles collaborators for NewSystemService.
type SystemServiceDeps struct {
	Probes []Probe
	Build  BuildInfo
	Clock  func() time.Time
}

type systemService struct {
	probes []Probe
	build  BuildInfo
	clock  func() time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService validates the probe set. Probe names must be unique.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if len(deps.Probes) == 0 {
		return nil, errors.New("system service: at least one probe is required")
	}
	seen := make(map[string]struct{}, len(deps.Probes))
	probes := make([]Probe, 0, len(deps.Probes))
	for _, probe := range deps.Probes {
		probe.Name = strings.TrimSpace(probe.Name)
		if probe.Name == "" || probe.Check == nil {
			return nil, fmt.Errorf("system service: probe %q is incomplete", probe.Name)
		}
		if _, dup := seen[probe.Name]; dup {
			return nil, fmt.Errorf("system service: duplicate probe %q", probe.Name)
		}
		seen[probe.Name] = struct{}{}
		if probe.Timeout <= 0 {
			probe.Timeout = defaultProbeTimeout
		}
		probes = append(probes, probe)
	}
	sort.Slice(probes, func(i, j int) bool { return probes[i].Name < probes[j].Name })

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{probes: probes, build: build, clock: clock}, nil
}

// Readiness runs every probe concurrently.
func (s *systemService) Readiness(ctx context.Context) (ReadinessReport, error) {
	if err := ctx.Err(); err != nil {
		return ReadinessReport{}, err
	}

	results := make([]ProbeResult, len(s.probes))
	var g errgroup.Group
	for i, probe := range s.probes {
		g.Go(func() error {
			results[i] = s.run(ctx, probe)
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock().UTC()
	report := ReadinessReport{
		Ready:     true,
		Status:    ProbeOK,
		Probes:    results,
		Build:     s.build,
		Uptime:    now.Sub(s.build.StartedAt),
		CheckedAt: now,
	}
	for _, result := range results {
		switch result.Status {
		case ProbeDown:
			report.Ready = false
			report.Status = ProbeDown
		case ProbeDegraded:
			if report.Status == ProbeOK {
				report.Status = ProbeDegraded
			}
		}
	}
	return report, nil
}

func (s *systemService) run(ctx context.Context, probe Probe) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, probe.Timeout)
	defer cancel()

	start := s.clock()
	err := probe.Check(probeCtx)
	if err == nil && probeCtx.Err() != nil {
		err = probeCtx.Err()
	}
	result := ProbeResult{
		Name:     probe.Name,
		Critical: probe.Critical,
		Status:   ProbeOK,
		Latency:  s.clock().Sub(start),
	}
	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			result.Error = "timed out after " + probe.Timeout.String()
		}
		result.Status = ProbeDegraded
		if probe.Critical {
			result.Status = ProbeDown
		}
	}
	return result
}
