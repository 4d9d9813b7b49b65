// Package main is the entry point for the Fae runtime daemon.
//
// Usage:
//
//	fae start    — daemon mode (scheduler authority, host command channel, discovery rebuild)
//	fae status   — check daemon health (scheduler lease, runtime audit tail)
//	fae doctor   — diagnose on-disk layout issues
//	fae version  — print version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/saorsa-labs/fae/internal/audit"
	"github.com/saorsa-labs/fae/internal/config"
	"github.com/saorsa-labs/fae/internal/discovery"
	"github.com/saorsa-labs/fae/internal/embedding"
	"github.com/saorsa-labs/fae/internal/generator"
	"github.com/saorsa-labs/fae/internal/host"
	"github.com/saorsa-labs/fae/internal/intelligence"
	"github.com/saorsa-labs/fae/internal/memory"
	"github.com/saorsa-labs/fae/internal/mutation"
	"github.com/saorsa-labs/fae/internal/observability"
	"github.com/saorsa-labs/fae/internal/scheduler"
	"github.com/saorsa-labs/fae/internal/skills"
	"github.com/saorsa-labs/fae/internal/soul"
)

const (
	version = "0.1.0"
	appName = "fae"
)

// Runtime bundles every subsystem bootstrap wires together for a daemon run.
type Runtime struct {
	Paths      config.Paths
	Log        *observability.Logger
	Metrics    *observability.MetricsCollector
	Memory     *memory.Repository
	Intel      *intelligence.Store
	Registry   *skills.Registry
	Managed    *skills.ManagedRegistry
	Discovery  *discovery.Index
	Generator  *generator.Pipeline
	Embedding  embedding.Engine
	Lease      *scheduler.LeaderLease
	Soul       *soul.Soul
	HostClient *host.HostCommandClient
	hostServer *host.HostCommandServer
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		runDaemon()
	case "status":
		runStatus()
	case "doctor":
		runDoctor()
	case "version":
		fmt.Printf("%s v%s\n", appName, version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s v%s — self-evolving skill runtime

Usage:
  %s <command>

Commands:
  start    Start the runtime daemon (scheduler, host command channel, discovery)
  status   Check daemon health (scheduler lease, runtime audit tail)
  doctor   Diagnose on-disk layout issues
  version  Print version

Environment variables:
  FAE_DATA_DIR           Data root (default: ~/.fae)
  FAE_CONFIG_DIR         Config root (default: ~/.fae/config)
  FAE_SKILLS_DIR         Markdown skills root (default: ~/.fae/skills)
  FAE_PYTHON_SKILLS_DIR  Python skill packages root (default: ~/.fae/python-skills)

`, appName, version, appName)
}

// auditConfigPath is a stand-in config path used only to derive the
// colocated runtime audit log file via audit.FileForConfig.
func auditConfigPath(paths config.Paths) string {
	return filepath.Join(paths.Config, "fae")
}

// bootstrap resolves paths, ensures the on-disk layout, and opens every
// subsystem a daemon run needs.
func bootstrap() (*Runtime, error) {
	paths := config.Load()
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure data directories: %w", err)
	}

	log := observability.NewLogger(appName, nil)
	engine := embedding.NewHashEngine()
	metrics := observability.NewMetricsCollector(0)

	needsMigration := memory.NeedsMigration(paths.LegacyMemoryDir(), paths.DBPath())

	repo, err := memory.Open(paths.DBPath(), memory.WithEngine(engine), memory.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("open memory repository: %w", err)
	}

	if needsMigration {
		report, err := memory.MigrateFromJSONL(paths.LegacyMemoryDir(), repo)
		if err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate legacy memory store: %w", err)
		}
		log.Info("migrated legacy memory store to sqlite", "records", report.RecordsMigrated, "audit_entries", report.AuditEntriesMigrated)
	}

	intel := intelligence.New(repo)
	registry := skills.NewRegistry(paths.SkillRegistryPath(), paths.Skills, paths.SkillSnapshotsDir(), paths.SkillDisabledDir())
	managed := skills.NewManagedRegistry(paths.MarkdownSkillRegistryPath(), paths.Skills, paths.SkillSnapshotsDir(), paths.SkillDisabledDir())
	adoptMarkdownSkills(managed, paths.Skills, log)

	discIdx, err := discovery.Open(filepath.Join(paths.Data, "discovery.db"))
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("open discovery index: %w", err)
	}
	discIdx.WithMetrics(metrics)

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	lease := scheduler.NewLeaderLease(instanceID, os.Getpid(), paths.SchedulerLeasePath(), scheduler.DefaultLeaseConfig()).WithLogger(log).WithMetrics(metrics)

	hostHandler := host.NewLoggingDeviceTransferHandler(log)
	hostClient, hostServer := host.NewCommandChannel(32, 32, hostHandler)

	soulMgr := soul.New(paths.Data, appName, "self-evolving skill runtime")
	if _, err := os.Stat(paths.SoulPath()); err != nil {
		if err := soulMgr.Initialize(); err != nil {
			log.Warn("soul initialize failed", "err", err)
		}
	}

	genConfig, err := generator.LoadPolicy(filepath.Join(paths.Config, "generator_policy.yaml"))
	if err != nil {
		log.Warn("generator policy load failed, using defaults", "err", err)
		genConfig = generator.DefaultConfig()
	}

	rt := &Runtime{
		Paths:      paths,
		Log:        log,
		Metrics:    metrics,
		Memory:     repo,
		Intel:      intel,
		Registry:   registry,
		Managed:    managed,
		Discovery:  discIdx,
		Generator:  generator.New(genConfig),
		Embedding:  engine,
		Lease:      lease,
		Soul:       soulMgr,
		HostClient: hostClient,
		hostServer: hostServer,
	}

	// Establish the mutation inventory baseline. A sync failure here is
	// logged, not fatal — the manifest converges on the next sync.
	roots := mutation.Roots{
		DataRoot:        paths.Data,
		ConfigRoot:      paths.Config,
		SoulPath:        paths.SoulPath(),
		OnboardingPath:  filepath.Join(paths.Data, "ONBOARDING.md"),
		SkillsDir:       paths.Skills,
		PythonSkillsDir: paths.PythonSkills,
		StagingDirs:     []string{filepath.Join(paths.Data, "staging")},
	}
	resolver := skills.NewPromotionResolver(registry, managed)
	if _, err := mutation.Sync(paths.MutationManifestPath(), roots, resolver, "bootstrap", log); err != nil {
		log.Warn("mutation manifest sync failed", "err", err)
	}

	return rt, nil
}

// adoptMarkdownSkills registers every `.md` file already present under
// skillsDir into the managed registry's Pending state, so pre-existing
// markdown skills enter the same promotion lifecycle Python skills do.
// Best-effort: a single bad file is logged and skipped, never fatal.
func adoptMarkdownSkills(managed *skills.ManagedRegistry, skillsDir string, log *observability.Logger) {
	entries, err := os.ReadDir(skillsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		path := filepath.Join(skillsDir, e.Name())
		if _, err := managed.RegisterManagedSkill(path); err != nil {
			log.Warn("markdown skill adopt failed", "path", path, "err", err)
		}
	}
}

// Close releases every open subsystem handle.
func (rt *Runtime) Close() {
	rt.Discovery.Close()
	rt.Memory.Close()
}

// runDaemon starts the full runtime: scheduler leader election, the host
// command channel server, and a periodic discovery rebuild, all stopped by
// SIGINT/SIGTERM.
func runDaemon() {
	rt, err := bootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[daemon] bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		rt.Log.Info("shutdown signal received")
		cancel()
	}()

	go rt.hostServer.Run(ctx)

	leaseCfg := scheduler.DefaultLeaseConfig()
	leaseTicker := time.NewTicker(time.Duration(leaseCfg.HeartbeatSecs) * time.Second)
	defer leaseTicker.Stop()

	discoveryTicker := time.NewTicker(15 * time.Minute)
	defer discoveryTicker.Stop()

	rt.Log.Info("daemon started", "data_dir", rt.Paths.Data)

	isLeader := renewLease(rt)

	for {
		select {
		case <-ctx.Done():
			rt.Log.Info("daemon shutting down")
			return

		case <-leaseTicker.C:
			isLeader = renewLease(rt)

		case <-discoveryTicker.C:
			if !isLeader {
				continue
			}
			if err := rt.Discovery.Rebuild(rt.Embedding, rt.Paths.Skills, rt.Paths.PythonSkills, time.Now().Unix(), rt.Log); err != nil {
				rt.Log.Warn("discovery rebuild failed", "err", err)
				continue
			}
			summary := rt.Metrics.Summarize(observability.MetricLatency, time.Time{})
			rt.Log.Info("discovery rebuild complete", "p50_ms", summary.P50, "p95_ms", summary.P95)
		}
	}
}

func renewLease(rt *Runtime) bool {
	decision, err := rt.Lease.TryAcquireOrRenewAt(scheduler.NowEpochMillis())
	if err != nil {
		rt.Log.Warn("scheduler lease renew failed", "err", err)
		return false
	}
	return decision.IsLeader
}

// runStatus reports whether the data layout is initialized and prints the
// tail of the runtime audit log.
func runStatus() {
	paths := config.Load()

	if _, err := os.Stat(paths.DBPath()); err != nil {
		fmt.Printf("memory database: not found at %s\n", paths.DBPath())
	} else {
		fmt.Printf("memory database: %s\n", paths.DBPath())
	}

	if _, err := os.Stat(paths.SchedulerLeasePath()); err != nil {
		fmt.Println("scheduler lease: no leader has run yet")
	} else {
		fmt.Printf("scheduler lease: %s\n", paths.SchedulerLeasePath())
	}

	entries, err := audit.ReadRecentForConfig(auditConfigPath(paths), 5)
	if err != nil {
		fmt.Printf("runtime audit: error reading log: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("runtime audit: no entries recorded yet")
		return
	}
	fmt.Println("runtime audit (most recent):")
	for _, e := range entries {
		fmt.Printf("  %s %s→%s (%s): %s\n", time.Unix(e.TimestampSecs, 0).Format(time.RFC3339), e.FromProfile, e.ToProfile, e.Source, e.Reason)
	}
}

// runDoctor checks the on-disk layout for common misconfigurations.
func runDoctor() {
	paths := config.Load()
	fmt.Printf("\n%s v%s — doctor\n\n", appName, version)

	issues := 0
	checks := 0

	for _, dir := range []string{paths.Data, paths.Config, paths.Skills, paths.PythonSkills} {
		checks++
		if info, err := os.Stat(dir); err != nil {
			fmt.Printf("  ✗ %s (does not exist — run 'fae start' once to create it)\n", dir)
			issues++
		} else if !info.IsDir() {
			fmt.Printf("  ✗ %s (exists but is not a directory)\n", dir)
			issues++
		} else {
			fmt.Printf("  ✓ %s\n", dir)
		}
	}

	checks++
	if _, err := os.Stat(paths.DBPath()); err != nil {
		fmt.Printf("  … memory database: not created yet\n")
	} else {
		fmt.Printf("  ✓ memory database: %s\n", paths.DBPath())
	}

	checks++
	if _, err := os.Stat(paths.MutationManifestPath()); err != nil {
		fmt.Printf("  … mutation manifest: not created yet\n")
	} else if m, err := mutation.Read(paths.MutationManifestPath(), nil); err != nil {
		fmt.Printf("  ✗ mutation manifest: %s (%v)\n", paths.MutationManifestPath(), err)
		issues++
	} else {
		s := m.Summarize()
		fmt.Printf("  ✓ mutation manifest: %s (%d artifacts, %d tombstoned, %s tracked)\n",
			paths.MutationManifestPath(), s.ArtifactCount, s.TombstonedCount, s.TotalSizeHuman)
	}

	fmt.Println()
	if issues == 0 {
		fmt.Printf("  all %d checks passed\n\n", checks)
	} else {
		fmt.Printf("  %d/%d checks passed, %d issue(s) found\n\n", checks-issues, checks, issues)
	}
}
