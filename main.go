package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"study-chat/internal/config"
	"study-chat/internal/conversation"
	"study-chat/internal/crawler"
	"study-chat/internal/gateway"
	"study-chat/internal/gemini"
	"study-chat/internal/grounding"
	"study-chat/internal/history"
	"study-chat/internal/logging"
	"study-chat/internal/ollama"
	"study-chat/internal/openai"
	"study-chat/internal/profile"
	"study-chat/internal/searxng"
	"study-chat/internal/session"
	"study-chat/internal/storage"
	"study-chat/internal/syncer"
	"study-chat/internal/terminal"
	"study-chat/internal/ui"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, markdown, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, markdown); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags loads the configuration and applies the flags that were set
// on top of it
func parseFlags(args []string) (*config.Config, bool, error) {
	fs := flag.NewFlagSet("study-chat", flag.ContinueOnError)
	defaults := config.NewConfig()

	configPath := fs.String("config", "", "Path to a YAML config file")
	provider := fs.String("provider", defaults.Provider, "AI provider: ollama, gemini or openai")
	model := fs.String("model", "", "Model name for the selected provider")
	ollamaURL := fs.String("ollama-url", defaults.Ollama.URL, "Ollama API URL")
	searxngURL := fs.String("searxng-url", defaults.SearXNG.URL, "SearXNG instance URL")
	web := fs.String("web", defaults.Session.WebSearch, "Web search mode: off, on or auto")
	maxResults := fs.Int("max-results", defaults.SearXNG.MaxResults, "Maximum search results to crawl")
	timeoutSeconds := fs.Int("timeout", int(defaults.Session.StreamTimeout.Seconds()), "Answer stream timeout in seconds")
	backend := fs.String("storage", defaults.Storage.Backend, "History storage: file, bolt, sqlite, redis or memory")
	verbose := fs.Bool("verbose", false, "Also write logs to stderr")
	noMarkdown := fs.Bool("no-markdown", false, "Do not render finished answers as markdown")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, false, err
	}

	modelSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			cfg.Provider = *provider
		case "model":
			modelSet = true
		case "ollama-url":
			cfg.Ollama.URL = *ollamaURL
		case "searxng-url":
			cfg.SearXNG.URL = *searxngURL
		case "web":
			cfg.Session.WebSearch = *web
		case "max-results":
			cfg.SearXNG.MaxResults = *maxResults
		case "timeout":
			cfg.Session.StreamTimeout = time.Duration(*timeoutSeconds) * time.Second
		case "storage":
			cfg.Storage.Backend = *backend
		case "verbose":
			cfg.Log.Console = *verbose
		}
	})

	// -model applies to the provider
	if modelSet {
		switch cfg.Provider {
		case "gemini":
			cfg.Gemini.Model = *model
		case "openai":
			cfg.OpenAI.Model = *model
		default:
			cfg.Ollama.Model = *model
		}
	}

	return cfg, !*noMarkdown, nil
}

func run(cfg *config.Config, markdown bool) error {
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	display := ui.NewDisplay(color.Output, markdown)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := storage.Open(storageOptions(cfg.Storage))
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer kv.Close()

	store := history.NewStore(kv, cfg.History.MaxConversations, logger)
	store.Load(ctx)

	mode, err := grounding.ParseMode(cfg.Session.WebSearch)
	if err != nil {
		return err
	}

	gw, model, err := newGateway(ctx, cfg, display, logger)
	if err != nil {
		return err
	}
	gw = gateway.WithTimeouts(gw, cfg.Session.StreamTimeout, cfg.Session.CallTimeout)

	syn := syncer.New(store, gw, logger)
	mgr := session.NewManager(gw, syn, session.Options{WebSearch: mode}, logger)

	profiles := profile.NewStore(kv, logger)
	user := profiles.Load(ctx)

	r := &repl{
		mgr:      mgr,
		store:    store,
		searcher: history.NewSearcher(store, gw, cfg.History.SearchCacheTTL, cfg.Session.CallTimeout, logger),
		profiles: profiles,
		display:  display,
		live:     ui.NewLive(display),
		spinner:  terminal.NewSpinner(color.Output),
		logger:   logger.Named("repl"),
	}
	r.live.OnStart = r.spinner.Stop
	mgr.Subscribe(r.live.Observe)

	display.PrintWelcome(cfg.Provider, model, mode)
	if !user.IsInitialSetupComplete {
		display.PrintInfo("Tell me about yourself with /profile name=<name> class=<class> goal=<goal>")
	} else {
		display.PrintInfo(fmt.Sprintf("Welcome back, %s!", user.Name))
	}

	r.loop(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not finish", zap.Error(err))
		display.PrintWarning("Some conversations may not have been saved")
	}
	display.PrintGoodbye()
	return nil
}

// storageOptions places bolt and sqlite databases inside the data
// directory when storage.path names a directory
func storageOptions(cfg config.StorageConfig) storage.Options {
	path := cfg.Path
	name := map[string]string{"bolt": "study-chat.db", "sqlite": "study-chat.sqlite"}[cfg.Backend]
	if name != "" {
		if info, err := os.Stat(path); (err == nil && info.IsDir()) || filepath.Ext(path) == "" {
			path = filepath.Join(path, name)
		}
	}
	return storage.Options{Backend: cfg.Backend, Path: path, RedisURL: cfg.RedisURL}
}

// newGateway builds the configured provider and checks it is reachable
func newGateway(ctx context.Context, cfg *config.Config, display *ui.Display, logger *zap.Logger) (gateway.Client, string, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Session.CallTimeout, logger), cfg.Gemini.Model, nil

	case "openai":
		return openai.NewClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, webGrounder(ctx, cfg, display, logger), logger), cfg.OpenAI.Model, nil

	default:
		client := ollama.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout, webGrounder(ctx, cfg, display, logger), logger)
		if err := client.HealthCheck(ctx); err != nil {
			display.PrintInfo("Make sure Ollama is running: ollama serve")
			return nil, "", err
		}
		if err := client.CheckModel(ctx); err != nil {
			return nil, "", err
		}
		return client, cfg.Ollama.Model, nil
	}
}

// webGrounder returns a SearXNG backed grounder, or nil when SearXNG is
// not configured or unreachable
func webGrounder(ctx context.Context, cfg *config.Config, display *ui.Display, logger *zap.Logger) gateway.Grounder {
	if cfg.SearXNG.URL == "" {
		return nil
	}
	search := searxng.NewClient(cfg.SearXNG.URL, cfg.Crawler.UserAgent, cfg.SearXNG.MaxResults, cfg.SearXNG.Timeout)
	if err := search.HealthCheck(ctx); err != nil {
		display.PrintWarning(fmt.Sprintf("SearXNG check failed: %v", err))
		display.PrintInfo("Web search will be unavailable. Start SearXNG to enable it.")
		return nil
	}
	fetch := crawler.NewCrawler(cfg.Crawler.Timeout, cfg.Crawler.MaxWorkers, cfg.Crawler.MaxContentSize, cfg.Crawler.UserAgent)
	return grounding.NewWeb(search, fetch, logger)
}

// repl reads commands and questions from stdin
type repl struct {
	mgr      *session.Manager
	store    *history.Store
	searcher *history.Searcher
	profiles *profile.Store
	display  *ui.Display
	live     *ui.Live
	spinner  *terminal.Spinner
	logger   *zap.Logger

	image  conversation.Image
	listed []conversation.Conversation
}

func (r *repl) loop(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		in := terminal.NewReader(os.Stdin)
		for {
			line, err := in.ReadLine()
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.prompt()
		var line string
		select {
		case <-ctx.Done():
			r.display.PrintInfo("Shutting down gracefully...")
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		if quit := r.handle(ctx, line); quit {
			return
		}
	}
}

func (r *repl) prompt() {
	title := ""
	if c, ok := r.mgr.Active(); ok {
		title = c.Title
	}
	r.display.PrintPrompt(title, r.image != "")
}

// handle runs one input line and reports whether the user asked to quit
func (r *repl) handle(ctx context.Context, line string) bool {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
		if arg != "" || r.image != "" {
			r.ask(ctx, arg)
		}
	case "/exit", "/quit":
		return true
	case "/help":
		r.display.PrintHelp()
	case "/clear":
		r.display.ClearScreen()
	case "/new":
		r.mgr.NewChat()
		r.display.PrintSuccess("Started a new chat")
	case "/tabs":
		active, _ := r.mgr.Active()
		r.display.PrintSessions(r.mgr.Sessions(), active.ID)
	case "/switch":
		id, ok := pick(arg, r.mgr.Sessions())
		if !ok {
			r.display.PrintWarning("Usage: /switch <n|id> (see /tabs)")
			return false
		}
		r.report(r.mgr.SwitchActive(id), "Switched session")
	case "/close":
		id := ""
		if arg == "" {
			active, ok := r.mgr.Active()
			if !ok {
				r.display.PrintInfo("No open session")
				return false
			}
			id = active.ID
		} else if picked, ok := pick(arg, r.mgr.Sessions()); ok {
			id = picked
		} else {
			r.display.PrintWarning("Usage: /close [n|id] (see /tabs)")
			return false
		}
		r.report(r.mgr.Close(id), "Closed session")
	case "/history":
		r.listed = r.store.List()
		r.display.PrintHistory(r.listed)
	case "/search":
		if arg == "" {
			r.display.PrintWarning("Usage: /search <term>")
			return false
		}
		r.spinner.Start("Searching history...")
		r.listed = r.searcher.Find(ctx, arg)
		r.spinner.Stop()
		r.display.PrintHistory(r.listed)
	case "/load":
		conv, ok := r.saved(arg)
		if !ok {
			r.display.PrintWarning("Usage: /load <n|id> (see /history)")
			return false
		}
		r.mgr.LoadFromHistory(conv)
		r.display.PrintConversation(conv)
	case "/delete":
		conv, ok := r.saved(arg)
		if !ok {
			r.display.PrintWarning("Usage: /delete <n|id> (see /history)")
			return false
		}
		r.report(r.mgr.Delete(ctx, conv.ID), fmt.Sprintf("Deleted %q", conv.Title))
		r.listed = nil
	case "/image":
		r.attach(arg)
	case "/web":
		mode, err := grounding.ParseMode(arg)
		if err != nil {
			r.display.PrintWarning("Usage: /web off|on|auto")
			return false
		}
		r.mgr.SetWebSearch(mode)
		r.display.PrintSuccess(fmt.Sprintf("Web search: %s", mode))
	case "/voice":
		user, ai := parseVoice(arg)
		if _, err := r.mgr.AppendTranscript(user, ai); err != nil {
			r.display.PrintError(err)
		}
	case "/profile":
		r.editProfile(ctx, arg)
	default:
		r.display.PrintWarning(fmt.Sprintf("Unknown command %s, try /help", cmd))
	}
	return false
}

func (r *repl) report(err error, success string) {
	if err != nil {
		r.display.PrintError(err)
		return
	}
	r.display.PrintSuccess(success)
}

// ask submits a question to the active session and waits for the answer
func (r *repl) ask(ctx context.Context, text string) {
	active, ok := r.mgr.Active()
	if !ok {
		active = r.mgr.CreateSession()
	}
	if active.Loading() {
		r.display.PrintWarning("Still answering the previous question")
		return
	}

	done := r.live.Follow(active.ID, active.Len())
	r.display.PrintUserMessage(text, time.Now())
	r.spinner.Start("Thinking...")
	if _, err := r.mgr.Submit(active.ID, text, r.image); err != nil {
		r.logger.Debug("submit rejected", zap.String("id", active.ID), zap.Error(err))
		r.live.Stop()
		r.spinner.Stop()
		r.display.PrintError(err)
		return
	}
	r.image = ""

	select {
	case <-done:
	case <-ctx.Done():
		r.live.Stop()
	}
	r.spinner.Stop()
}

func (r *repl) attach(path string) {
	if path == "" {
		r.image = ""
		r.display.PrintInfo("Image attachment cleared")
		return
	}
	img, err := conversation.ImageFromFile(path)
	if err != nil {
		r.display.PrintError(err)
		if errors.Is(err, os.ErrNotExist) {
			if wd, err := os.Getwd(); err == nil {
				terminal.ShowImageSuggestions(color.Output, wd, filepath.Base(path))
			}
		}
		return
	}
	r.image = img
	r.display.PrintSuccess(fmt.Sprintf("Attached %s to your next question", filepath.Base(path)))
}

// saved resolves a /history or /search listing index, or a conversation id
func (r *repl) saved(arg string) (conversation.Conversation, bool) {
	list := r.listed
	if len(list) == 0 {
		list = r.store.List()
	}
	id, ok := pick(arg, list)
	if !ok {
		return conversation.Conversation{}, false
	}
	return r.store.Get(id)
}

func (r *repl) editProfile(ctx context.Context, arg string) {
	if arg == "" {
		r.display.PrintProfile(r.profiles.Get())
		return
	}
	patch, err := parseProfile(arg)
	if err != nil {
		r.display.PrintWarning(err.Error())
		return
	}
	user := r.profiles.Update(ctx, patch)
	if !user.IsInitialSetupComplete && user.Name != "" && user.Class != "" && user.Goal != "" {
		complete := true
		user = r.profiles.Update(ctx, profile.Patch{IsInitialSetupComplete: &complete})
	}
	r.display.PrintProfile(user)
}

// parseCommand splits "/cmd arg..." into the lowercased command and its
// argument. Lines that are not commands return an empty command.
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	cmd, arg, _ = strings.Cut(line, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// pick resolves a 1-based index into list, or an id present in list
func pick(arg string, list []conversation.Conversation) (string, bool) {
	if arg == "" {
		return "", false
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(list) {
			return "", false
		}
		return list[n-1].ID, true
	}
	for _, c := range list {
		if c.ID == arg {
			return c.ID, true
		}
	}
	return "", false
}

// parseVoice splits "what I said | what the AI said"
func parseVoice(arg string) (user, ai string) {
	user, ai, _ = strings.Cut(arg, "|")
	return strings.TrimSpace(user), strings.TrimSpace(ai)
}

// parseProfile reads space separated field=value pairs. Values may contain
// spaces when quoted: goal="NEET-UG Aspirant".
func parseProfile(arg string) (profile.Patch, error) {
	var p profile.Patch
	for _, pair := range splitQuoted(arg) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return profile.Patch{}, fmt.Errorf("expected field=value, got %q", pair)
		}
		value = strings.Trim(value, `"'`)
		switch strings.ToLower(key) {
		case "name":
			p.Name = &value
		case "class":
			p.Class = &value
		case "goal":
			p.Goal = &value
		case "image":
			p.ProfileImageURL = &value
		default:
			return profile.Patch{}, fmt.Errorf("unknown profile field %q (name, class, goal, image)", key)
		}
	}
	return p, nil
}

func splitQuoted(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
