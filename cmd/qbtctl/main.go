package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	qbt "github.com/jfxdev/qbtclient"
)

type options struct {
	config   string
	category string
	add      string
	debug    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "TOML config path (defaults to QBT_* environment variables)")
	flag.StringVar(&opts.category, "category", "", "only list torrents in this category")
	flag.StringVar(&opts.add, "add", "", "comma-separated .torrent files to upload before listing")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "qbtctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (qbt.Config, error) {
	if opts.config != "" {
		return qbt.LoadConfigFile(opts.config)
	}
	return qbt.LoadConfig("")
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if opts.debug {
		cfg.Debug = true
	}

	client, err := qbt.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "qbtctl: logout: %v\n", err)
		}
	}()

	version, err := client.Connect(ctx)
	if err != nil {
		return describe(err)
	}
	appVersion, err := client.GetAppVersion(ctx)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("qBittorrent %s (Web API %s)\n", appVersion, version)

	if opts.add != "" {
		paths := strings.Split(opts.add, ",")
		err := client.AddTorrentFile(ctx, qbt.TorrentFileConfig{
			Paths:    paths,
			Category: opts.category,
		})
		if err != nil {
			return describe(err)
		}
		fmt.Printf("added %d torrent file(s)\n", len(paths))
	}

	torrents, err := client.ListTorrents(ctx, qbt.ListOptions{Category: opts.category})
	if err != nil {
		return describe(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tNAME\tSTATE\tPROGRESS\tCATEGORY")
	for _, t := range torrents {
		fmt.Fprintf(w, "%.8s\t%s\t%s\t%.1f%%\t%s\n", t.Hash, t.Name, t.State, t.Progress*100, t.Category)
	}
	return w.Flush()
}

// describe adds a hint for the failures a user can fix.
func describe(err error) error {
	var clientErr *qbt.ClientError
	if !errors.As(err, &clientErr) {
		return err
	}

	switch clientErr.Code {
	case qbt.ErrorCodeLoginFailed:
		return fmt.Errorf("%w\nhint: check username and password; qBittorrent bans an IP after repeated failures", err)
	case qbt.ErrorCodeUnsupportedVersion:
		return fmt.Errorf("%w\nhint: upgrade qBittorrent to use this command", err)
	case qbt.ErrorCodeNetwork:
		return fmt.Errorf("%w\nhint: check base_url and that the WebUI is enabled", err)
	default:
		return err
	}
}
