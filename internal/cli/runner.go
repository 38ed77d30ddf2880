// Package cli routes subcommands to the store, the submission
// controller, the search pathway, and the TUI.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ms-iwade/opensearch-app/internal/auth"
	"github.com/ms-iwade/opensearch-app/internal/config"
	"github.com/ms-iwade/opensearch-app/internal/form"
	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/search"
	"github.com/ms-iwade/opensearch-app/internal/server"
	"github.com/ms-iwade/opensearch-app/internal/store/sqlstore"
	"github.com/ms-iwade/opensearch-app/internal/ui"
)

// Options tune behavior from root flags.
type Options struct {
	Verbose    bool   // lower the log level to debug
	ConfigPath string // config file; empty means the default location
}

// env bundles what most subcommands need: config, logger, store.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	store  *sqlstore.Store
}

func newEnv(opt Options) (*env, error) {
	path := opt.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := zap.NewProductionConfig()
	if opt.Verbose {
		logCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	st, err := sqlstore.Open(sqlstore.Config{Path: cfg.DBPath, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, store: st}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("store close failed", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// ---------------------------------------------------
// CLI router
// ---------------------------------------------------

func Run(args []string, opt Options) int {
	if len(args) == 0 {
		PrintHelp()
		return 2
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		PrintHelp()
		return 0

	case "ls":
		return doList(opt)

	case "add":
		return doAdd(a, opt)

	case "done":
		if len(a) != 1 {
			ui.Fail("usage: todo done <index>")
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			ui.Fail("done: not a number: " + a[0])
			return 2
		}
		return doToggle(n, opt)

	case "rm":
		if len(a) != 1 {
			ui.Fail("usage: todo rm <index>")
			return 2
		}
		n, err := strconv.Atoi(a[0])
		if err != nil {
			ui.Fail("rm: not a number: " + a[0])
			return 2
		}
		return doRemove(n, opt)

	case "search":
		return doSearch(strings.Join(a, " "), opt)

	case "serve":
		return doServe(opt)

	case "auth":
		if len(a) == 0 {
			ui.Fail("usage: todo auth <login|logout|status|whoami>")
			return 2
		}
		switch a[0] {
		case "login":
			return doAuthLogin()
		case "logout":
			return doAuthLogout()
		case "status":
			return doAuthStatus()
		case "whoami":
			return doAuthWhoAmI()
		default:
			ui.Fail("usage: todo auth <login|logout|status|whoami>")
			return 2
		}
	}

	ui.Fail("unknown subcommand: " + cmd)
	fmt.Fprintln(os.Stderr)
	PrintHelp()
	return 2
}

func PrintHelp() {
	fmt.Printf(`todo - a live todo list over a local item store

Usage:
  todo <subcommand> [args]

Subcommands:
  add [-via direct|mediated] <content...>   Add a new item
  ls                 List items (interactive TUI with live updates)
  done <index>       Toggle status for item at 1-based index
  rm <index>         Remove item at 1-based index
  search <term...>   Full-text search over content and status
  serve              Serve the store over HTTP (CRUD, search, /events)
  auth <login|logout|status|whoami>   Token authentication

Examples:
  todo add "Buy milk"
  todo add -via mediated "File taxes"
  todo ls
  todo done 2
  todo search milk
`)
}

// ---------------------------------------------------
// Core subcommands
// ---------------------------------------------------

func doList(opt Options) int {
	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()

	if err := ui.RunList(context.Background(), e.store, e.logger); err != nil {
		ui.Fail("tui: " + err.Error())
		return 1
	}
	return 0
}

func doAdd(args []string, opt Options) int {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	via := fs.String("via", "direct", "creation pathway: direct or mediated")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	content := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if content == "" {
		ui.Fail("usage: todo add [-via direct|mediated] <content...>")
		return 2
	}
	pathway, err := form.ParsePathway(*via)
	if err != nil {
		ui.Fail("add: " + err.Error())
		return 2
	}

	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()

	sub := form.New(e.store, e.logger).Submit(context.Background(), content, pathway)
	if !sub.OK {
		ui.Fail("add: " + sub.Message)
		return 1
	}
	ui.Ok(sub.Message)
	return 0
}

// listing returns all items in the index order used by done and rm:
// pending first, then completed, newest first within each.
func listing(ctx context.Context, e *env) ([]model.Item, error) {
	var items []model.Item
	for _, status := range model.Statuses() {
		batch, err := e.store.Query(ctx, status)
		if err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

func doToggle(userIndex int, opt Options) int {
	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()
	ctx := context.Background()

	items, err := listing(ctx, e)
	if err != nil {
		ui.Fail("load: " + err.Error())
		return 1
	}
	if userIndex < 1 || userIndex > len(items) {
		ui.Fail(fmt.Sprintf("index out of range: have %d, got %d", len(items), userIndex))
		fmt.Fprintln(os.Stderr, ui.Muted("Hint: run `todo ls` to see valid indexes"))
		return 2
	}
	item := items[userIndex-1]
	next := model.StatusCompleted
	if item.Status == model.StatusCompleted {
		next = model.StatusPending
	}
	res, err := e.store.Update(ctx, item.ID, item.Content, next)
	if err != nil {
		ui.Fail("toggle: " + err.Error())
		return 1
	}
	if !res.OK() {
		ui.Fail("toggle: " + strings.Join(res.Errors, "; "))
		return 1
	}
	ui.Ok("toggled")
	return 0
}

func doRemove(userIndex int, opt Options) int {
	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()
	ctx := context.Background()

	items, err := listing(ctx, e)
	if err != nil {
		ui.Fail("load: " + err.Error())
		return 1
	}
	if userIndex < 1 || userIndex > len(items) {
		ui.Fail(fmt.Sprintf("index out of range: have %d, got %d", len(items), userIndex))
		fmt.Fprintln(os.Stderr, ui.Muted("Hint: run `todo ls` to see valid indexes"))
		return 2
	}
	res, err := e.store.Delete(ctx, items[userIndex-1].ID)
	if err != nil {
		ui.Fail("rm: " + err.Error())
		return 1
	}
	if !res.OK() {
		ui.Fail("rm: " + strings.Join(res.Errors, "; "))
		return 1
	}
	ui.Ok("removed")
	return 0
}

func doSearch(term string, opt Options) int {
	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()

	items, err := search.New(e.store, e.logger).Search(context.Background(), term)
	if err != nil {
		ui.Fail("search: " + err.Error())
		return 1
	}
	if len(items) == 0 {
		fmt.Println(ui.Muted("no matches"))
		return 0
	}
	for i, item := range items {
		fmt.Printf("%2d. %s %s\n", i+1, item.Content, ui.Muted("["+string(item.Status)+"]"))
	}
	return 0
}

func doServe(opt Options) int {
	e, err := newEnv(opt)
	if err != nil {
		ui.Fail("init: " + err.Error())
		return 1
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Addr:      e.cfg.Addr,
		Store:     e.store,
		Searcher:  search.New(e.store, e.logger),
		Logger:    e.logger,
		JWTSecret: e.cfg.JWTSecret,
	})
	if err := srv.Run(ctx); err != nil {
		ui.Fail("serve: " + err.Error())
		return 1
	}
	return 0
}

// ---------------------------------------------------
// Auth subcommands
// ---------------------------------------------------

func doAuthLogin() int {
	fmt.Print("Paste your token: ")
	var token string
	if _, err := fmt.Scanln(&token); err != nil {
		ui.Fail("read token: " + err.Error())
		return 1
	}
	if err := auth.SetToken(token, nil); err != nil {
		ui.Fail("save token: " + err.Error())
		return 1
	}
	ui.Ok("logged in")
	return 0
}

func doAuthLogout() int {
	ti, _ := auth.GetToken()
	if ti != nil && ti.Source == "env" {
		ui.Ok("token is provided by " + auth.EnvToken + " env var (nothing to delete)")
		return 0
	}
	if err := auth.DeleteToken(); err != nil {
		ui.Fail("logout: " + err.Error())
		return 1
	}
	ui.Ok("logged out")
	return 0
}

func doAuthStatus() int {
	ti, _ := auth.GetToken()
	if ti == nil {
		fmt.Println(ui.Muted("not logged in"))
		fmt.Println("Run: todo auth login")
		return 0
	}
	fmt.Printf("source: %s\n", ti.Source)
	if ti.ExpiresAt != nil {
		fmt.Printf("expires: %s\n", ti.ExpiresAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Println("expires: (unknown)")
	}
	fmt.Println("env override: " + auth.EnvToken)
	return 0
}

// whoami decodes JWT claims locally (unsigned); opaque tokens print
// basic info.
func doAuthWhoAmI() int {
	ti, _ := auth.GetToken()
	if ti == nil {
		ui.Fail("not logged in. Run: todo auth login")
		return 2
	}
	claims, err := auth.Introspect(ti.Token)
	if err == nil {
		fmt.Println("JWT payload:")
		fmt.Println(claims)
		return 0
	}
	fmt.Println("Opaque token (cannot introspect locally).")
	fmt.Println("source:", ti.Source)
	return 0
}
