package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/vectool/vecinfo/pkg/access"
	"github.com/vectool/vecinfo/pkg/config"
	"github.com/vectool/vecinfo/pkg/creds"
	"github.com/vectool/vecinfo/pkg/driver"
	"github.com/vectool/vecinfo/pkg/driver/dbspatial"
	"github.com/vectool/vecinfo/pkg/driver/flatgeobuf"
	"github.com/vectool/vecinfo/pkg/driver/geojson"
	"github.com/vectool/vecinfo/pkg/driver/gpkg"
	"github.com/vectool/vecinfo/pkg/report"
	"github.com/vectool/vecinfo/pkg/vfs"
)

type options struct {
	PositionalArgs struct {
		Datasource string   `positional-arg-name:"datasource" description:"vector data source: file, container or connection string"`
		Layers     []string `positional-arg-name:"layer" description:"layer names to report, all if omitted"`
	} `positional-args:"yes"`

	ReadOnly bool     `long:"ro" description:"open the data source read-only"`
	Update   bool     `long:"update" description:"open the data source in update mode"`
	SQL      string   `long:"sql" description:"execute sql statement and report its result"`
	OpenOpts []string `long:"oo" description:"driver open option as key=value, can be repeated"`

	JSON     bool   `long:"json" description:"report as json"`
	Summary  bool   `long:"summary" description:"per-layer summary without features"`
	Features bool   `long:"features" description:"list features of reported layers"`
	Where    string `long:"where" description:"attribute filter for feature listing"`
	FID      int64  `long:"fid" default:"-1" description:"report only the feature with this fid"`
	NoFields bool   `long:"nofields" description:"suppress field definitions"`
	NoCount  bool   `long:"nocount" description:"suppress feature counts"`
	NoExtent bool   `long:"noextent" description:"suppress extents"`
	NoMeta   bool   `long:"nomd" description:"suppress metadata"`

	ConfigFile string        `long:"config" env:"VECINFO_CONFIG" default:"vecinfo.yml" description:"tool config file"`
	SSHKey     string        `long:"ssh-key" env:"VECINFO_SSH_KEY" description:"ssh key for sftp sources"`
	Timeout    time.Duration `long:"timeout" env:"VECINFO_TIMEOUT" default:"30s" description:"remote source dial timeout"`
	Workers    int           `long:"workers" description:"concurrent layer scans"`

	Creds CredsProvider `group:"creds" namespace:"creds" env-namespace:"VECINFO_CREDS"`

	Quiet   bool `short:"q" long:"quiet" description:"suppress advisory output"`
	Version bool `long:"version" description:"show version"`
	Dbg     bool `long:"dbg" description:"debug mode"`
}

// CredsProvider defines credential provider options, for all supported providers
type CredsProvider struct {
	Provider string `long:"provider" env:"PROVIDER" description:"credentials provider type" choice:"none" choice:"internal" choice:"vault" choice:"aws" default:"none"`

	Key  string `long:"key" env:"KEY" description:"encryption key for the internal store"`
	Conn string `long:"conn" env:"CONN" description:"connection string for the internal store" default:"vecinfo-creds.db"`

	Vault struct {
		Token string `long:"token" env:"TOKEN" description:"vault token"`
		Path  string `long:"path"  env:"PATH" description:"vault path"`
		URL   string `long:"url" env:"URL" description:"vault url"`
	} `group:"vault" namespace:"vault" env-namespace:"VAULT"`

	Aws struct {
		Region    string `long:"region" env:"REGION" description:"aws region"`
		AccessKey string `long:"access-key" env:"ACCESS_KEY" description:"aws access key"`
		SecretKey string `long:"secret-key" env:"SECRET_KEY" description:"aws secret key"`
	} `group:"aws" namespace:"aws" env-namespace:"AWS"`
}

var revision = "latest"

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("vecinfo %s\n", revision)
		os.Exit(0)
	}
	setupLog(opts.Dbg)

	if err := run(opts); err != nil {
		if opts.Dbg {
			log.Panicf("[ERROR] %v", err)
		}
		fmt.Fprintf(os.Stderr, "vecinfo failed - %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	if opts.ReadOnly && opts.Update {
		return fmt.Errorf("--ro and --update can't be combined")
	}
	if opts.PositionalArgs.Datasource == "" {
		return fmt.Errorf("no datasource specified")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.New(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("can't load config %q: %w", opts.ConfigFile, err)
	}

	credsProvider, err := makeCredsProvider(opts.Creds, cfg)
	if err != nil {
		return fmt.Errorf("can't make credentials provider: %w", err)
	}

	path, err := creds.Resolve(opts.PositionalArgs.Datasource, credsProvider)
	if err != nil {
		return fmt.Errorf("can't resolve credentials for %q: %w", opts.PositionalArgs.Datasource, err)
	}

	if vfs.NeedsStaging(path) {
		stager := &vfs.Stager{KeyPath: sshKey(opts, cfg), Timeout: opts.Timeout}
		localPath, cleanup, stageErr := stager.Localize(ctx, path)
		if stageErr != nil {
			return fmt.Errorf("can't stage remote source %q: %w", path, stageErr)
		}
		defer cleanup()
		path = localPath
	}

	registry := makeRegistry(cfg)
	negotiator := &access.Negotiator{Probe: registry, Opener: registry}

	res, err := negotiator.Negotiate(path, intent(opts), opts.SQL, openOptions(opts, cfg, registry))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := res.Dataset.Close(); closeErr != nil {
			log.Printf("[WARN] can't close data source: %v", closeErr)
		}
	}()

	if res.Degraded && !opts.Quiet {
		fmt.Println("Had to open data source read-only.")
	}

	renderer := &report.Renderer{Out: os.Stdout, Opts: reportOptions(opts, cfg)}

	if opts.SQL != "" {
		layer, sqlErr := res.Dataset.ExecuteSQL(opts.SQL)
		if sqlErr != nil {
			return fmt.Errorf("can't execute sql on %q: %w", path, sqlErr)
		}
		return renderer.DescribeLayer(res.Dataset, layer)
	}
	return renderer.Describe(res.Dataset)
}

// intent maps the explicit access flags to the negotiation intent.
func intent(opts options) access.Intent {
	switch {
	case opts.Update:
		return access.IntentUpdate
	case opts.ReadOnly:
		return access.IntentReadOnly
	default:
		return access.IntentDefault
	}
}

// makeRegistry builds the driver registry, honoring config-disabled drivers.
// This is the only place drivers are registered; the registry lives for the
// whole process.
func makeRegistry(cfg *config.Config) *driver.Registry {
	all := []driver.Driver{flatgeobuf.New(), geojson.New(), gpkg.New(), dbspatial.New()}
	registry := driver.NewRegistry()
	for _, d := range all {
		if cfg.DriverDisabled(d.Name()) {
			log.Printf("[DEBUG] driver %q disabled by config", d.Name())
			continue
		}
		registry.Register(d)
	}
	return registry
}

// openOptions merges config-provided per-driver defaults with the -oo flags;
// command line wins by coming last.
func openOptions(opts options, cfg *config.Config, registry *driver.Registry) []string {
	var res []string
	for _, name := range registry.Names() {
		res = append(res, cfg.DriverOptions(name)...)
	}
	return append(res, opts.OpenOpts...)
}

func reportOptions(opts options, cfg *config.Config) report.Options {
	workers := opts.Workers
	if workers == 0 {
		workers = cfg.Workers
	}
	res := report.Options{
		JSON:     opts.JSON || cfg.OutputFormat == "json",
		Summary:  opts.Summary,
		Features: opts.Features,
		NoFields: opts.NoFields,
		NoCount:  opts.NoCount,
		NoExtent: opts.NoExtent,
		NoMeta:   opts.NoMeta,
		Layers:   opts.PositionalArgs.Layers,
		FID:      opts.FID,
		Where:    opts.Where,
		Workers:  workers,
	}
	return res
}

func sshKey(opts options, cfg *config.Config) string {
	if opts.SSHKey != "" {
		return opts.SSHKey
	}
	return cfg.SSHKey
}

// makeCredsProvider creates a credentials provider based on options. The
// internal store prompts for its key when stdin is a terminal and no key
// was supplied.
func makeCredsProvider(copts CredsProvider, cfg *config.Config) (creds.Provider, error) {
	switch copts.Provider {
	case "none":
		return &creds.NoOpProvider{}, nil
	case "internal":
		key := copts.Key
		if key == "" && term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprint(os.Stderr, "credentials store key: ")
			keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("can't read store key: %w", err)
			}
			key = strings.TrimSpace(string(keyBytes))
		}
		conn := copts.Conn
		if cfg.CredsConn != "" && conn == "vecinfo-creds.db" {
			conn = cfg.CredsConn
		}
		return creds.NewInternalStore(conn, []byte(key))
	case "vault":
		return creds.NewHashiVaultProvider(copts.Vault.URL, copts.Vault.Path, copts.Vault.Token)
	case "aws":
		return creds.NewAWSProvider(copts.Aws.AccessKey, copts.Aws.SecretKey, copts.Aws.Region)
	}
	log.Printf("[WARN] unknown credentials provider %q", copts.Provider)
	return &creds.NoOpProvider{}, nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
