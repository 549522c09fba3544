package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/patrick91/metamist/cli/internal/config"
	"github.com/patrick91/metamist/cli/internal/output"
	"github.com/patrick91/metamist/cli/internal/sync"
	"github.com/patrick91/metamist/internal/billing"
	"github.com/patrick91/metamist/internal/model"
	"github.com/patrick91/metamist/internal/parser"
)

const version = "0.2.0"

func main() {
	// Detect subcommand first
	command := "costs"
	args := os.Args[1:]

	// Find and extract the subcommand from args
	var filteredArgs []string
	for i, arg := range args {
		switch arg {
		case "costs", "sync", "config":
			command = arg
			// Keep remaining args for flag parsing
			filteredArgs = append(args[:i], args[i+1:]...)
		}
		if command != "costs" || arg == "costs" {
			break
		}
	}
	if filteredArgs == nil {
		filteredArgs = args
	}

	// Handle special commands
	switch command {
	case "sync":
		runSync(filteredArgs)
		return
	case "config":
		runConfig(filteredArgs)
		return
	}

	// Create a new FlagSet for clean parsing
	fs := flag.NewFlagSet("metaseq", flag.ExitOnError)

	var (
		group    string
		since    string
		until    string
		timezone string
		dir      string
		jsonOut  bool
		details  bool
		compact  bool
		offline  bool
		showHelp bool
		showVer  bool
	)

	fs.StringVar(&group, "group", string(model.GroupByARGuid), "Grouping field (ar_guid, batch_id, cromwell_workflow_id, wdl_task_name, sequencing_group, compute_category)")
	fs.StringVar(&since, "since", "", "Start date filter (YYYYMMDD)")
	fs.StringVar(&until, "until", "", "End date filter (YYYYMMDD)")
	fs.StringVar(&timezone, "timezone", "", "Timezone for date filtering (e.g., Australia/Sydney)")
	fs.StringVar(&dir, "dir", "", "Billing export directory (defaults to config, then ~/billing-exports)")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	fs.BoolVar(&details, "details", false, "Show per-SKU breakdown")
	fs.BoolVar(&compact, "compact", false, "Force compact table output")
	fs.BoolVar(&compact, "c", false, "Force compact table output")
	fs.BoolVar(&offline, "offline", false, "Use embedded SKU category data (no network)")
	fs.BoolVar(&showHelp, "help", false, "Show help")
	fs.BoolVar(&showHelp, "h", false, "Show help")
	fs.BoolVar(&showVer, "version", false, "Show version")
	fs.BoolVar(&showVer, "v", false, "Show version")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `metaseq - sample metadata and cost reporting

Usage: metaseq [command] [options]

Commands:
  costs     Show aggregated cost report (default)
  sync      Sync billing exports to server
  config    Configure sync settings

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  metaseq                          Show costs grouped by AR-GUID
  metaseq costs --group batch_id
  metaseq costs --since 20260101 --details
  metaseq costs --json
  metaseq config --server https://example.com --api-key <key>
  metaseq sync
`)
	}

	fs.Parse(filteredArgs)

	if showVer {
		fmt.Printf("metaseq version %s\n", version)
		return
	}

	if showHelp {
		fs.Usage()
		return
	}

	key := model.GroupKey(group)
	if !key.Valid() {
		fmt.Fprintf(os.Stderr, "Error: Unknown grouping field: %s\n", group)
		os.Exit(1)
	}

	// Parse dates
	var opts billing.Options

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid timezone: %s\n", timezone)
			os.Exit(1)
		}
		opts.Timezone = loc
	}

	if since != "" {
		t, err := time.Parse("20060102", since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --since date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		opts.Since = t
	}

	if until != "" {
		t, err := time.Parse("20060102", until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid --until date format. Use YYYYMMDD.\n")
			os.Exit(1)
		}
		// Include the entire day
		opts.Until = t.Add(24*time.Hour - time.Second)
	}

	// Load and parse all billing exports
	records, err := parser.ParseDir(exportsDir(dir), offline)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading billing exports: %v\n", err)
		os.Exit(1)
	}

	if len(records) == 0 {
		fmt.Printf("No billing exports found in %s\n", exportsDir(dir))
		return
	}

	// Filter by date range
	records = billing.FilterRecords(records, opts)

	if len(records) == 0 {
		fmt.Println("No billing data found for the specified date range.")
		return
	}

	rows, dropped := billing.Summarize(records, key)

	// Output results
	tableOpts := output.TableOptions{ForceCompact: compact, ShowDetails: details}

	if jsonOut {
		output.PrintJSON(rows, key, dropped)
		return
	}

	output.PrintTable(rows, key, tableOpts)
	if dropped > 0 {
		fmt.Printf("%d records excluded (credits or missing %s label)\n", dropped, key)
	}
}

// exportsDir resolves the billing export directory: flag, then config,
// then the default location.
func exportsDir(flagDir string) string {
	if flagDir != "" {
		return flagDir
	}
	cfg, err := config.Load()
	if err == nil && cfg.ExportsDir != "" {
		return cfg.ExportsDir
	}
	return config.DefaultExportsDir()
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	var (
		server string
		apiKey string
		dir    string
		show   bool
	)
	fs.StringVar(&server, "server", "", "Server URL")
	fs.StringVar(&apiKey, "api-key", "", "API key for authentication")
	fs.StringVar(&dir, "exports-dir", "", "Billing export directory")
	fs.BoolVar(&show, "show", false, "Show current configuration")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: metaseq config [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  metaseq config --server https://example.com --api-key metamist_xxx
  metaseq config --exports-dir /data/billing-exports
  metaseq config --show
`)
	}

	fs.Parse(args)

	if show {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.Server == "" {
			fmt.Println("No configuration found. Run 'metaseq config --server <url> --api-key <key>' to configure.")
			return
		}
		fmt.Printf("Server: %s\n", cfg.Server)
		fmt.Printf("API Key: %s...%s\n", cfg.APIKey[:10], cfg.APIKey[len(cfg.APIKey)-4:])
		if cfg.ClientID != "" {
			fmt.Printf("Client ID: %s\n", cfg.ClientID)
		}
		if cfg.ExportsDir != "" {
			fmt.Printf("Exports dir: %s\n", cfg.ExportsDir)
		}
		return
	}

	if server == "" && apiKey == "" && dir == "" {
		fs.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	if server != "" {
		cfg.Server = server
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if dir != "" {
		cfg.ExportsDir = dir
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration saved.")
}

// syncService implements service.Interface for background syncing
type syncService struct {
	interval time.Duration
	stop     chan struct{}
	logger   service.Logger
}

func (s *syncService) Start(svc service.Service) error {
	s.stop = make(chan struct{})
	go s.run()
	return nil
}

func (s *syncService) Stop(svc service.Service) error {
	close(s.stop)
	return nil
}

func (s *syncService) run() {
	cfg, err := config.Load()
	if err != nil || cfg.Server == "" || cfg.APIKey == "" {
		if s.logger != nil {
			s.logger.Error("Not configured. Run 'metaseq config' first.")
		}
		return
	}

	client := sync.NewClient(cfg)

	// Sync immediately on start
	s.doSync(client, cfg)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doSync(client, cfg)
		case <-s.stop:
			return
		}
	}
}

func (s *syncService) doSync(client *sync.Client, cfg *config.Config) {
	lastSync, _ := client.GetSyncStatus()

	dir := cfg.ExportsDir
	if dir == "" {
		dir = config.DefaultExportsDir()
	}
	records, err := parser.ParseDir(dir, true)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error reading billing exports: %v", err)
		}
		return
	}

	var toSync []model.BillingRecord
	for _, r := range records {
		if lastSync == nil || r.UsageEndTime.After(*lastSync) {
			toSync = append(toSync, r)
		}
	}

	if len(toSync) == 0 {
		return
	}

	inserted, err := client.Sync(toSync)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error syncing: %v", err)
		}
		return
	}

	if s.logger != nil {
		s.logger.Infof("Synced %d records", inserted)
	}
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var (
		dryRun   bool
		interval time.Duration
	)
	fs.BoolVar(&dryRun, "dry-run", false, "Show what would be synced without sending")
	fs.DurationVar(&interval, "interval", time.Hour, "Sync interval for service mode (e.g., 1h, 30m)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: metaseq sync [command] [options]

Commands:
  (none)      Sync once
  install     Install as a background service
  start       Start the background service
  stop        Stop the background service
  uninstall   Remove the background service
  status      Show service status

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  metaseq sync                       Sync once
  metaseq sync install               Install service (syncs every hour)
  metaseq sync install --interval 30m
  metaseq sync start                 Start the service
  metaseq sync stop                  Stop the service
`)
	}

	// Check for service commands before parsing flags
	var svcCommand string
	if len(args) > 0 {
		switch args[0] {
		case "install", "start", "stop", "uninstall", "status":
			svcCommand = args[0]
			args = args[1:]
		}
	}

	fs.Parse(args)

	// Create service config
	svcConfig := &service.Config{
		Name:        "metaseq-sync",
		DisplayName: "metaseq Sync Service",
		Description: "Automatically syncs billing exports to the metamist server",
		Arguments:   []string{"sync", "run", fmt.Sprintf("--interval=%s", interval)},
	}

	svc := &syncService{interval: interval}
	s, err := service.New(svc, svcConfig)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	// Handle service commands
	switch svcCommand {
	case "install":
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'metaseq config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Printf("Service installed and started.\n")
		fmt.Printf("Sync interval: %s\n", interval)
		return

	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")
		return

	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")
		return

	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")
		return

	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
		} else {
			switch status {
			case service.StatusRunning:
				fmt.Println("Service status: running")
			case service.StatusStopped:
				fmt.Println("Service status: stopped")
			default:
				fmt.Println("Service status: unknown")
			}
		}
		return

	case "": // No service command - do a one-time sync
		cfg, err := config.Load()
		if err != nil || cfg.Server == "" || cfg.APIKey == "" {
			fmt.Fprintf(os.Stderr, "Error: Not configured. Run 'metaseq config --server <url> --api-key <key>' first.\n")
			os.Exit(1)
		}

		client := sync.NewClient(cfg)
		doSyncOnce(client, cfg, dryRun)
		return

	default:
		// Running as service (internal command)
		logger, err := s.Logger(nil)
		if err == nil {
			svc.logger = logger
		}
		if err := s.Run(); err != nil {
			logger.Error(err)
		}
	}
}

func doSyncOnce(client *sync.Client, cfg *config.Config, dryRun bool) {
	lastSync, err := client.GetSyncStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get sync status: %v\n", err)
	}

	dir := cfg.ExportsDir
	if dir == "" {
		dir = config.DefaultExportsDir()
	}
	records, err := parser.ParseDir(dir, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading billing exports: %v\n", err)
		os.Exit(1)
	}

	var toSync []model.BillingRecord
	for _, r := range records {
		if lastSync == nil || r.UsageEndTime.After(*lastSync) {
			toSync = append(toSync, r)
		}
	}

	if len(toSync) == 0 {
		fmt.Println("No new records to sync.")
		return
	}

	fmt.Printf("Found %d new records to sync.\n", len(toSync))

	if dryRun {
		fmt.Println("Dry run - no data sent.")
		return
	}

	inserted, err := client.Sync(toSync)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error syncing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sync complete. %d records inserted.\n", inserted)
}
