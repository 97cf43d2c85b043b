package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/asheshgoplani/agent-vault/internal/archive"
	"github.com/asheshgoplani/agent-vault/internal/config"
	"github.com/asheshgoplani/agent-vault/internal/filter"
	"github.com/asheshgoplani/agent-vault/internal/indexer"
	"github.com/asheshgoplani/agent-vault/internal/indexstore"
	"github.com/asheshgoplani/agent-vault/internal/logging"
	"github.com/asheshgoplani/agent-vault/internal/model"
	"github.com/asheshgoplani/agent-vault/internal/parser"
)

const Version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	vaultDir, _ := config.VaultDir()
	logging.Init(logging.Config{
		LogDir: vaultDir,
		Level:  cfg.Logs.Level,
		Format: cfg.Logs.Format,
	})
	defer logging.Shutdown()

	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("Agent Vault v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "scan":
		handleScan(cfg, args[1:])
	case "search":
		handleSearch(cfg, args[1:])
	case "pin":
		handlePin(cfg, args[1:])
	case "unpin":
		handleUnpin(cfg, args[1:])
	case "sync":
		handleSync(cfg, args[1:])
	case "archives":
		handleArchives(cfg, args[1:])
	case "prune":
		handlePrune(cfg, args[1:])
	case "rollup", "stats":
		handleRollup(cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Agent Vault - index and archive AI coding-agent session logs

Usage: agent-vault <command> [options]

Commands:
  scan      Index session logs (incremental; use -full to rebuild search corpora)
  search    Full-text search across indexed sessions
  pin       Pin a session for durable archival
  unpin     Remove a pinned session's archive
  sync      Synchronize pinned archives with upstream
  archives  List pinned archives and their sync status
  prune     Enforce the tool-IO retention budget
  rollup    Show per-day and time-of-day usage rollups
  version   Print version`)
}

// enabledSources resolves which sources to scan and their log roots,
// honoring per-source config overrides.
func enabledSources(cfg *config.Config) map[model.Source]string {
	roots := make(map[model.Source]string)
	for _, src := range model.AllSources {
		settings := cfg.Sources[string(src)]
		if settings.Disabled {
			continue
		}
		root := settings.Root
		if root == "" {
			root = parser.DefaultRoot(src)
		}
		if root == "" {
			continue
		}
		roots[src] = root
	}
	return roots
}

func openStore(cfg *config.Config) *indexstore.Store {
	store, err := indexstore.Open(cfg.Index.Path)
	if err != nil {
		// Index unavailable is never fatal; callers fall back to scanning.
		fmt.Fprintf(os.Stderr, "Warning: index unavailable (%v), falling back to scan\n", err)
		return nil
	}
	return store
}

func newManager(cfg *config.Config, store *indexstore.Store) (*archive.Manager, error) {
	return archive.NewManager(archive.Config{
		Root:               cfg.Archive.Root,
		SyncInterval:       time.Duration(cfg.Archive.SyncIntervalSecs) * time.Second,
		InactivityWindow:   time.Duration(cfg.Archive.InactivityMinutes) * time.Minute,
		ConsistencyRetries: cfg.Archive.ConsistencyRetries,
		OrphanGrace:        time.Duration(cfg.Archive.OrphanGraceHours) * time.Hour,
	}, store, enabledSources(cfg))
}

func handleScan(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	sourceFlag := fs.String("source", "", "limit to one source (claude, codex, ...)")
	full := fs.Bool("full", false, "also rebuild stale full-text corpora (slow)")
	quiet := fs.Bool("quiet", false, "suppress progress output")
	_ = fs.Parse(args)

	roots := enabledSources(cfg)
	if *sourceFlag != "" {
		root, ok := roots[model.Source(*sourceFlag)]
		if !ok {
			fmt.Fprintf(os.Stderr, "Error: unknown or disabled source %q\n", *sourceFlag)
			os.Exit(1)
		}
		roots = map[model.Source]string{model.Source(*sourceFlag): root}
	}

	store := openStore(cfg)
	if store != nil {
		defer store.Close()
	}

	ctx := context.Background()
	engine := indexer.New(cfg.Index.ScanRateLimit)
	touchedDays := make(map[string]map[model.Source]struct{})

	var all []*model.Session
	for src, root := range roots {
		files, err := parser.Discover(src, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: discovery failed for %s: %v\n", src, err)
			continue
		}

		scanCfg := indexer.ScanConfig{
			DiscoverFiles: func() ([]parser.FileInfo, error) { return files, nil },
			ParseFile:     parser.ParseFile,
			ProgressEvery: 25,
		}
		if !*quiet {
			scanCfg.Progress = func(done, total int) {
				fmt.Fprintf(os.Stderr, "\r%s: %d/%d", src, done, total)
			}
		}
		if store != nil {
			scanCfg.OnParsed = func(sess *model.Session, mtimeNs int64) error {
				if !sess.StartTime.IsZero() {
					day := sess.StartTime.UTC().Format("2006-01-02")
					if touchedDays[day] == nil {
						touchedDays[day] = make(map[model.Source]struct{})
					}
					touchedDays[day][sess.Source] = struct{}{}
				}
				return store.IndexSession(sess, mtimeNs)
			}
		}

		// Force the scan path: scanning is what refreshes the index.
		result, err := engine.HydrateOrScan(ctx, nil, scanCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: scan %s: %v\n", src, err)
			continue
		}
		if !*quiet {
			fmt.Fprintln(os.Stderr)
		}
		all = append(all, result.Sessions...)

		if store != nil {
			if _, err := indexer.ReconcileDeleted(store, src, files); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: reconcile %s: %v\n", src, err)
			}
			if *full {
				refreshed, err := indexer.SyncSearchCorpus(ctx, store, src, files)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: corpus sync %s: %v\n", src, err)
				} else if refreshed > 0 {
					fmt.Fprintf(os.Stderr, "%s: refreshed %d search corpora\n", src, refreshed)
				}
			}
		}
	}

	if store != nil {
		for day, sources := range touchedDays {
			for src := range sources {
				if err := store.RecomputeRollups(day, src); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: rollup %s/%s: %v\n", day, src, err)
				}
			}
		}
	}

	fmt.Printf("Indexed %d sessions\n", len(all))
	for _, s := range all {
		printSessionLine(s)
	}
}

func handleSearch(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	sourceFlag := fs.String("source", "", "limit to one source")
	modelFlag := fs.String("model", "", "exact model name")
	fromFlag := fs.String("from", "", "start date (YYYY-MM-DD)")
	toFlag := fs.String("to", "", "end date (YYYY-MM-DD)")
	toolIO := fs.Bool("tool-io", false, "search tool inputs/outputs instead of transcripts")
	limit := fs.Int("limit", 0, "max results (default from config)")
	_ = fs.Parse(args)

	query := strings.Join(fs.Args(), " ")
	repo, path, freeText := filter.ParseOperators(query)

	pre := indexstore.Prefilter{
		Model:        *modelFlag,
		RepoContains: repo,
		PathContains: path,
	}
	if *sourceFlag != "" {
		pre.Sources = []model.Source{model.Source(*sourceFlag)}
	}
	if *fromFlag != "" {
		if t, err := time.Parse("2006-01-02", *fromFlag); err == nil {
			pre.From = t
		}
	}
	if *toFlag != "" {
		if t, err := time.Parse("2006-01-02", *toFlag); err == nil {
			pre.To = t.Add(24*time.Hour - time.Second)
		}
	}
	if *limit <= 0 {
		*limit = cfg.Index.SearchLimit
	}

	store := openStore(cfg)
	if store == nil {
		searchByScan(cfg, query)
		return
	}
	defer store.Close()

	var ids []string
	var err error
	if freeText == "" {
		ids, err = store.PrefilterSessionIDs(pre)
	} else if *toolIO {
		ids, err = store.SearchSessionIDsToolIOFTS(freeText, pre, *limit)
	} else {
		ids, err = store.SearchSessionIDsFTS(freeText, pre, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: index search failed (%v), falling back to scan\n", err)
		searchByScan(cfg, query)
		return
	}
	if len(ids) > *limit {
		ids = ids[:*limit]
	}

	// An exact-text miss still gets a shot at fuzzy title matching.
	if len(ids) == 0 && freeText != "" {
		if hydrated, err := store.HydrateSessions(pre.Sources); err == nil {
			ranked := filter.RankByTitle(hydrated, freeText)
			if len(ranked) > *limit {
				ranked = ranked[:*limit]
			}
			for _, s := range ranked {
				printSessionLine(s)
			}
			fmt.Printf("%d results (title match)\n", len(ranked))
			return
		}
	}

	for _, id := range ids {
		row, err := store.SessionMetaByID(id)
		if err != nil || row == nil {
			continue
		}
		printSessionLine(row.ToSession(0))
	}
	fmt.Printf("%d results\n", len(ids))
}

// searchByScan is the degraded path when the index is unavailable: scan
// everything and evaluate the filter in memory.
func searchByScan(cfg *config.Config, query string) {
	engine := indexer.New(cfg.Index.ScanRateLimit)
	roots := enabledSources(cfg)

	var all []*model.Session
	for src, root := range roots {
		result, err := engine.HydrateOrScan(context.Background(), nil, indexer.ScanConfig{
			DiscoverFiles: func() ([]parser.FileInfo, error) { return parser.Discover(src, root) },
			ParseFile:     parser.ParseFile,
		})
		if err != nil {
			continue
		}
		all = append(all, result.Sessions...)
	}

	f := filter.Filter{Query: query}
	cache := filter.NewTranscriptCache()
	matched := 0
	for _, s := range all {
		if f.Matches(s, cache) {
			printSessionLine(s)
			matched++
		}
	}
	fmt.Printf("%d results (scanned)\n", matched)
}

func handlePin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: agent-vault pin <session-id | log-file-path>")
		os.Exit(1)
	}
	target := fs.Arg(0)

	store := openStore(cfg)
	if store != nil {
		defer store.Close()
	}

	sess := resolveSession(cfg, store, target)
	if sess == nil {
		fmt.Fprintf(os.Stderr, "Error: session %q not found\n", target)
		os.Exit(1)
	}

	mgr, err := newManager(cfg, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	if err := mgr.Pin(sess); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.SyncNow(sess.Source, sess.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: initial sync failed: %v\n", err)
	}
	fmt.Printf("Pinned %s (%s)\n", sess.ID, sess.Source)
}

// resolveSession finds a session by index id or by parsing a log file path.
func resolveSession(cfg *config.Config, store *indexstore.Store, target string) *model.Session {
	if store != nil {
		if row, err := store.SessionMetaByID(target); err == nil && row != nil {
			return row.ToSession(0)
		}
	}
	if _, err := os.Stat(target); err != nil {
		return nil
	}
	for src, root := range enabledSources(cfg) {
		if !strings.HasPrefix(target, root) {
			continue
		}
		if sess := parser.ParseFile(target, src); sess != nil {
			return sess
		}
	}
	return nil
}

func handleUnpin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("unpin", flag.ExitOnError)
	sourceFlag := fs.String("source", "", "session source (required)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 || *sourceFlag == "" {
		fmt.Fprintln(os.Stderr, "Usage: agent-vault unpin -source <source> <session-id>")
		os.Exit(1)
	}

	mgr, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	if err := mgr.Unpin(model.Source(*sourceFlag), fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Unpinned %s\n", fs.Arg(0))
}

func handleSync(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	sourceFlag := fs.String("source", "", "session source (with a session id)")
	_ = fs.Parse(args)

	store := openStore(cfg)
	if store != nil {
		defer store.Close()
	}
	mgr, err := newManager(cfg, store)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	if fs.NArg() > 0 {
		if *sourceFlag == "" {
			fmt.Fprintln(os.Stderr, "Usage: agent-vault sync [-source <source> <session-id>]")
			os.Exit(1)
		}
		if err := mgr.SyncNow(model.Source(*sourceFlag), fs.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Synced %s\n", fs.Arg(0))
		return
	}

	infos, err := mgr.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, info := range infos {
		if err := mgr.SyncNow(info.Source, info.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", info.SessionID, err)
		}
	}
	fmt.Printf("Synced %d archives\n", len(infos))
}

func handleArchives(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	_ = fs.Parse(args)

	mgr, err := newManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	infos, err := mgr.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(infos) == 0 {
		fmt.Println("No pinned sessions")
		return
	}

	for _, info := range infos {
		status := string(info.Status)
		if info.UpstreamMissing {
			status += " (upstream gone)"
		}
		fmt.Printf("%-34s %-8s %-9s %9s  %s\n",
			info.SessionID, info.Source, status,
			humanize.Bytes(uint64(info.ArchiveSizeBytes)),
			truncate(info.Title, 40))
		if info.LastError != "" {
			fmt.Printf("  last error: %s\n", info.LastError)
		}
	}
}

func handlePrune(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	_ = fs.Parse(args)

	store := openStore(cfg)
	if store == nil {
		os.Exit(1)
	}
	defer store.Close()

	pruned, err := indexer.EnforceToolIOBudget(store, cfg.Index.ToolIORetentionDays, cfg.Index.ToolIOBudgetMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned tool-IO corpora for %d sessions\n", pruned)
}

func handleRollup(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rollup", flag.ExitOnError)
	sourceFlag := fs.String("source", "claude", "source to report on")
	days := fs.Int("days", 14, "how many recent days to show")
	_ = fs.Parse(args)

	store := openStore(cfg)
	if store == nil {
		os.Exit(1)
	}
	defer store.Close()

	src := model.Source(*sourceFlag)
	daily, err := store.DailyRollups(src, *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Daily usage (%s):\n", src)
	for _, r := range daily {
		fmt.Printf("  %s  %4d sessions  %6d messages  %5d commands\n",
			r.Day, r.Sessions, r.Messages, r.Commands)
	}

	tod, err := store.TimeOfDayRollups(src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(tod) > 0 {
		fmt.Println("By hour of day (UTC):")
		for _, r := range tod {
			fmt.Printf("  %02d:00  %4d sessions  %6d messages\n", r.Hour, r.Sessions, r.Messages)
		}
	}
}

func printSessionLine(s *model.Session) {
	when := ""
	if t := s.EffectiveTime(); !t.IsZero() {
		when = humanize.Time(t)
	}
	fmt.Printf("%-34s %-8s %-14s %9s  %s\n",
		s.ID, s.Source, when,
		humanize.Bytes(uint64(s.FileSizeBytes)),
		truncate(s.Title, 50))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
