// Package main is the maintenance tool for deeb databases.
//
// It loads a YAML config declaring instances and entities, then runs one
// command:
//
//	check                       load every instance and print document counts
//	find <entity> [query]       print matching documents, one JSON per line
//	count <entity> [query]      print the number of matching documents
//	schema                      print the JSON Schema of the config file
//	watch                       reload instances edited externally, log changes
//	backup <instance> <file>    write a zstd compressed snapshot
//	restore <instance> <file>   replace an instance with a snapshot
//	history <instance> [n]      list recorded commits (needs -history)
//	show <instance> <commit>    print the instance file at a commit
//
// Queries use the JSON form of the query package, e.g. {"Eq":["name","Joey"]}.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/deeb"
	"github.com/maruel/deeb/internal/history"
	"github.com/maruel/deeb/query"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "deeb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "deeb.yaml", "Config file declaring the instances")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	useHistory := flag.Bool("history", false, "Record commits in a git repository in the config directory")
	indent := flag.Bool("indent", true, "Write instance files with one field per line")
	lockTimeout := flag.Duration("lock-timeout", deeb.DefaultLockTimeout, "Maximum wait for an instance's writer lock")
	limit := flag.Int("limit", 0, "find, count: maximum number of documents, 0 for all")
	skip := flag.Int("skip", 0, "find, count: number of documents to skip")
	sortBy := flag.String("sort", "", "find, count: comma separated fields, prefix with - for descending")
	include := flag.String("include", "", "find: comma separated associations to attach")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: deeb [flags] <check|find|count|schema|watch|backup|restore|history|show> [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			case nil:
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cmd, args := args[0], args[1:]
	if cmd == "schema" {
		b, err := deeb.ConfigSchema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}

	cfg, err := deeb.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	opts := &deeb.Options{Logger: logger, LockTimeout: *lockTimeout, Indent: *indent}
	var rec *history.Recorder
	if *useHistory {
		abs, err := filepath.Abs(*configPath)
		if err != nil {
			return err
		}
		if rec, err = history.Open(filepath.Dir(abs), "deeb", "deeb@localhost"); err != nil {
			return err
		}
		opts.History = rec
	}
	db := deeb.New(opts)
	if err := db.RegisterConfig(ctx, cfg); err != nil {
		return err
	}

	fo := &deeb.FindOptions{Options: query.Options{Limit: *limit, Skip: *skip, Sort: parseSort(*sortBy)}}
	if *include != "" {
		fo.Include = strings.Split(*include, ",")
	}
	switch cmd {
	case "check":
		return check(ctx, db)
	case "find", "count":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: deeb %s <entity> [query]", cmd)
		}
		e, ok := db.Entity(args[0])
		if !ok {
			return fmt.Errorf("unknown entity %q", args[0])
		}
		q := query.All()
		if len(args) == 2 {
			if q, err = query.Parse([]byte(args[1])); err != nil {
				return err
			}
		}
		if cmd == "count" {
			n, err := db.Count(ctx, e, q, &fo.Options)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		}
		docs, err := db.FindMany(ctx, e, q, fo)
		if err != nil {
			return err
		}
		for _, d := range docs {
			fmt.Println(d.String())
		}
		return nil
	case "watch":
		return watch(ctx, db)
	case "backup", "restore":
		if len(args) != 2 {
			return fmt.Errorf("usage: deeb %s <instance> <file>", cmd)
		}
		if cmd == "backup" {
			return backup(ctx, db, args[0], args[1])
		}
		return restore(ctx, db, args[0], args[1])
	case "history", "show":
		if rec == nil {
			return errors.New("-history is required")
		}
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: deeb %s <instance> [arg]", cmd)
		}
		p, err := db.Path(args[0])
		if err != nil {
			return err
		}
		if cmd == "show" {
			hash := "HEAD"
			if len(args) == 2 {
				hash = args[1]
			}
			b, err := rec.FileAt(ctx, hash, p)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(b)
			return err
		}
		n := 20
		if len(args) == 2 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid count: %w", err)
			}
		}
		commits, err := rec.History(ctx, p, n)
		if err != nil {
			return err
		}
		for _, c := range commits {
			fmt.Printf("%s %s %s\n", c.Hash[:12], c.When.Format(time.DateTime), c.Message)
		}
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func check(ctx context.Context, db *deeb.Deeb) error {
	for _, name := range db.Instances() {
		entities, err := db.Entities(name)
		if err != nil {
			return err
		}
		p, _ := db.Path(name)
		fmt.Printf("%s (%s)\n", name, p)
		for _, e := range entities {
			n, err := db.Count(ctx, e, query.All(), nil)
			if err != nil {
				return err
			}
			fmt.Printf("  %s: %d\n", e.Name, n)
		}
	}
	return nil
}

func watch(ctx context.Context, db *deeb.Deeb) error {
	for _, name := range db.Instances() {
		entities, err := db.Entities(name)
		if err != nil {
			return err
		}
		for _, e := range entities {
			sub, err := db.Subscribe(e, query.All(), 0)
			if err != nil {
				return err
			}
			defer sub.Close()
			go func() {
				for ev := range sub.C {
					slog.InfoContext(ctx, "Change", "entity", ev.Entity, "kind", ev.Kind.String(), "id", ev.Document.ID())
				}
			}()
		}
	}
	slog.InfoContext(ctx, "Watching", "instances", db.Instances())
	return db.Watch(ctx)
}

func backup(ctx context.Context, db *deeb.Deeb, instance, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err2 := f.Close(); err == nil {
			err = err2
		}
	}()
	return db.Backup(ctx, instance, f)
}

func restore(ctx context.Context, db *deeb.Deeb, instance, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return db.Restore(ctx, instance, f)
}

// parseSort parses "age,-name".
func parseSort(s string) []query.Sort {
	var out []query.Sort
	for f := range strings.SplitSeq(s, ",") {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		desc := strings.HasPrefix(f, "-")
		out = append(out, query.Sort{Field: strings.TrimPrefix(f, "-"), Desc: desc})
	}
	return out
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("deeb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
