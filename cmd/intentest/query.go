package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/codefionn/intentest/internal/diffview"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/codefionn/intentest/internal/render"
	"github.com/codefionn/intentest/internal/replay"
	"github.com/codefionn/intentest/internal/syntax"
	"github.com/codefionn/intentest/internal/testerclient"
	"github.com/codefionn/intentest/internal/web"
	"golang.design/x/clipboard"
)

// generateArgs is the query payload the tester service expects for a test
// generation request.
type generateArgs struct {
	TargetFocalMethod  string `json:"target_focal_method"`
	TargetFocalFile    string `json:"target_focal_file"`
	TargetTestCaseName string `json:"target_test_case_name"`
	ProjectPath        string `json:"project_path"`
	FocalFilePath      string `json:"focal_file_path"`
}

// sessionOptions are the flags shared by query and generate
type sessionOptions struct {
	web    bool
	diff   bool
	copy   bool
	plain  bool
	record string
}

func (o *sessionOptions) register(fs *flag.FlagSet) {
	fs.BoolVar(&o.web, "web", false, "Mirror the session to a browser view")
	fs.BoolVar(&o.diff, "diff", false, "Print the diff between consecutive test versions")
	fs.BoolVar(&o.copy, "copy", false, "Copy the last generated test to the clipboard")
	fs.BoolVar(&o.plain, "plain", false, "Disable markdown rendering")
	fs.StringVar(&o.record, "record", "", "Save the session as a replayable transcript")
}

func (a *app) runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	argsFile := fs.String("args", "", "JSON file with the query arguments ('-' reads stdin)")
	var opts sessionOptions
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var payload json.RawMessage
	switch {
	case *argsFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read query arguments: %w", err)
		}
		payload = data
	case *argsFile != "":
		data, err := os.ReadFile(*argsFile)
		if err != nil {
			return fmt.Errorf("failed to read query arguments: %w", err)
		}
		payload = data
	case fs.NArg() > 0:
		payload = json.RawMessage(strings.Join(fs.Args(), " "))
	default:
		return errors.New("query needs --args or a JSON argument")
	}
	if !json.Valid(payload) {
		return errors.New("query arguments are not valid JSON")
	}

	return a.session(ctx, payload, opts)
}

func (a *app) runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	method := fs.String("method", "", "Name of the focal method")
	desc := fs.String("desc", "", "Description of the intended test")
	project := fs.String("project", "", "Project root (default: current directory)")
	dryRun := fs.Bool("dry-run", false, "Print the query arguments instead of running them")
	var opts sessionOptions
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *method == "" {
		return errors.New("usage: intentest generate --method name [--desc text] <file>")
	}

	ga, err := buildGenerateArgs(fs.Arg(0), *method, *desc, *project)
	if err != nil {
		return err
	}
	if *dryRun {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ga)
	}
	return a.session(ctx, ga, opts)
}

// buildGenerateArgs locates method in file and assembles the request.
func buildGenerateArgs(file, method, desc, project string) (*generateArgs, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}

	lang := syntax.DetectLanguage(file)
	if !syntax.IsSupported(lang) {
		return nil, fmt.Errorf("%w: %s", syntax.ErrUnsupportedLanguage, file)
	}
	methods, err := syntax.ExtractMethods(string(src), lang)
	if err != nil {
		return nil, err
	}
	m, ok := syntax.FindMethod(methods, method)
	if !ok {
		names := make([]string, 0, len(methods))
		for _, m := range methods {
			names = append(names, m.Name)
		}
		return nil, fmt.Errorf("method %q not found in %s (have: %s)", method, file, strings.Join(names, ", "))
	}

	absFile, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	if project == "" {
		project = "."
	}
	absProject, err := filepath.Abs(project)
	if err != nil {
		return nil, err
	}
	if desc == "" {
		desc = "test " + method
	}

	return &generateArgs{
		TargetFocalMethod:  m.Text,
		TargetFocalFile:    string(src),
		TargetTestCaseName: desc,
		ProjectPath:        filepath.ToSlash(absProject),
		FocalFilePath:      filepath.ToSlash(absFile),
	}, nil
}

// session runs one query and renders its events until it ends.
func (a *app) session(ctx context.Context, payload interface{}, opts sessionOptions) error {
	client, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := client.ChangeJUnitVersion(ctx, a.cfg.JUnitVersion); err != nil {
		logger.Warn("failed to set junit version %s: %v", a.cfg.JUnitVersion, err)
	}

	r, err := render.New(a.stdout, render.Options{
		Markdown: a.cfg.Render.Markdown && !opts.plain,
		Width:    a.cfg.Render.Width,
		Style:    a.cfg.Render.Style,
	})
	if err != nil {
		return err
	}

	var pub *web.Publisher
	if opts.web || a.cfg.Web.Enabled {
		srv := web.NewServer(a.cfg.Web.Address)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Warn("failed to stop web view: %v", err)
			}
		}()
		fmt.Fprintf(a.stderr, "Web view: %s\n", srv.URL())
		pub = srv.Publisher()
	}

	var tracker *diffview.Tracker
	if opts.diff || opts.copy || pub != nil {
		tracker = diffview.NewTracker(diffview.NewPlayer(nil), "")
	}

	var rec *replay.Transcript
	if opts.record != "" {
		rec = replay.NewTranscript()
	}

	var sessionErr error
	for ev := range client.Query(ctx, payload) {
		if pub != nil {
			pub.Publish(ev)
		}

		switch ev.Kind {
		case testerclient.EventStarted:
			logger.Info("session %s started", ev.RequestID)
			if rec != nil {
				rec.Frames = append(rec.Frames, replay.StartFrame())
			}

		case testerclient.EventMessages:
			r.Messages(ev.Messages)
			if rec != nil {
				rec.Frames = append(rec.Frames, replay.MessagesFrame(ev.SessionID, ev.Messages...))
			}
			if tracker == nil {
				continue
			}
			diffs, err := tracker.Observe(ev.Messages)
			if err != nil {
				logger.Warn("failed to track test versions: %v", err)
			}
			for _, d := range diffs {
				if opts.diff {
					r.Diff(d.Summary(), d.Unified)
				}
				if pub != nil {
					pub.PublishDiff(ev.SessionID, d)
				}
			}

		case testerclient.EventNoReference:
			r.NoReference(ev.JUnitVersion)
			if rec != nil {
				rec.Frames = append(rec.Frames, replay.NoReferenceFrame(ev.SessionID, ev.JUnitVersion))
			}

		case testerclient.EventFinished:
			r.Finished()
			if rec != nil {
				rec.Frames = append(rec.Frames, replay.FinishFrame())
			}

		case testerclient.EventFailed:
			r.Failure(ev.Err)
			sessionErr = ev.Err
		}
	}

	if rec != nil {
		if err := rec.Save(opts.record); err != nil {
			return fmt.Errorf("failed to save transcript: %w", err)
		}
		logger.Info("saved %d frames to %s", len(rec.Frames), opts.record)
	}

	if tracker != nil {
		if latest := tracker.Latest(); latest != "" {
			a.checkGenerated(r, latest)
			if opts.copy {
				if err := copyToClipboard(latest); err != nil {
					r.Notice("Cannot copy the test: " + err.Error())
				} else {
					r.Notice("Copied the generated test to the clipboard")
				}
			}
		}
	}
	return sessionErr
}

// checkGenerated reports syntax errors in the generated test.
func (a *app) checkGenerated(r *render.Renderer, code string) {
	result, err := syntax.Validate(code, syntax.DetectCodeLang(code))
	if err != nil {
		logger.Debug("skipping validation of generated test: %v", err)
		return
	}
	if result.Valid {
		return
	}
	lines := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		lines = append(lines, "  "+e.String())
	}
	r.Notice(fmt.Sprintf("The generated test has %d syntax errors:\n%s", len(result.Errors), strings.Join(lines, "\n")))
}

func copyToClipboard(content string) error {
	if err := clipboard.Init(); err != nil {
		return fmt.Errorf("failed to initialize clipboard: %w", err)
	}
	clipboard.Write(clipboard.FmtText, []byte(content))
	return nil
}
