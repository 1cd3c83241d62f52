package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/codefionn/intentest/internal/config"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/codefionn/intentest/internal/replay"
	"github.com/codefionn/intentest/internal/syntax"
)

func (a *app) runJUnitVersion(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("junit-version", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	save := fs.Bool("save", false, "Also store the version in the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: intentest junit-version [--save] <version>")
	}
	version := fs.Arg(0)

	client, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := client.ChangeJUnitVersion(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "JUnit version set to %s\n", version)

	if *save {
		a.cfg.JUnitVersion = version
		if err := a.cfg.Save(a.cfgPath); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}
	return nil
}

func (a *app) runMethods(args []string) error {
	fs := flag.NewFlagSet("methods", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	asJSON := fs.Bool("json", false, "Print methods as JSON")
	lang := fs.String("lang", "", "Language (default: from the file extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: intentest methods [--json] [--lang name] <file>")
	}

	file := fs.Arg(0)
	src, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	language := *lang
	if language == "" {
		language = syntax.DetectLanguage(file)
	}

	methods, err := syntax.ExtractMethods(string(src), language)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(methods)
	}
	for _, m := range methods {
		fmt.Fprintf(a.stdout, "%s:%d\t%s\n", file, m.Line+1, m.Name)
	}
	return nil
}

func (a *app) runReplay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	defaults := replay.DefaultConfig()
	addr := fs.String("addr", fmt.Sprintf("127.0.0.1:%d", a.cfg.Port), "Listen address")
	delay := fs.Duration("delay", defaults.Delay, "Pause between two frames")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: intentest replay [--addr host:port] [--delay d] <transcript>")
	}

	transcript, err := replay.LoadTranscript(fs.Arg(0))
	if err != nil {
		return err
	}

	srv := replay.NewServer(transcript, replay.Config{
		Addr:         *addr,
		Delay:        *delay,
		JUnitVersion: a.cfg.JUnitVersion,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Replaying %d frames on port %d\n", len(transcript.Frames), srv.Port())

	<-ctx.Done()
	return srv.Stop()
}

func (a *app) runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	current := a.cfg.JUnitVersion
	if err := client.ChangeJUnitVersion(ctx, current); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "JUnit version %s, watching %s\n", current, a.cfgPath)

	return config.Watch(ctx, a.cfgPath, func(cfg *config.Config, err error) {
		if err != nil {
			fmt.Fprintf(a.stderr, "Ignoring invalid config: %v\n", err)
			return
		}
		if cfg.JUnitVersion == current {
			return
		}
		if err := client.ChangeJUnitVersion(ctx, cfg.JUnitVersion); err != nil {
			logger.Error("failed to push junit version %s: %v", cfg.JUnitVersion, err)
			fmt.Fprintf(a.stderr, "Failed to set JUnit version %s: %v\n", cfg.JUnitVersion, err)
			return
		}
		current = cfg.JUnitVersion
		fmt.Fprintf(a.stdout, "JUnit version set to %s\n", current)
	})
}
