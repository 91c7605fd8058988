// Package main is the dalil CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/chat"
	"github.com/hyperjump/dalil/internal/chunker"
	"github.com/hyperjump/dalil/internal/cli"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/embedding"
	"github.com/hyperjump/dalil/internal/extract"
	"github.com/hyperjump/dalil/internal/index"
	"github.com/hyperjump/dalil/internal/llm"
	"github.com/hyperjump/dalil/internal/memory"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/retriever"
	"github.com/hyperjump/dalil/internal/server"
	"github.com/hyperjump/dalil/internal/watcher"
	"github.com/hyperjump/dalil/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/dalil/config.yaml"
	defaultSessionID  = "local"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory takes precedence; when neither exists, built-in defaults rooted at the current
// directory are used. Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get working directory: %w", err)
		}
		fallback := filepath.Join(cwd, "config.yaml")
		if _, statErr := os.Stat(fallback); statErr == nil {
			cfg, loadErr := config.Load(fallback)
			if loadErr != nil {
				return nil, "", loadErr
			}
			return cfg, fallback, nil
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			cfg.ExpandPaths(cwd)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "chat":
		runChat()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "history":
		runHistory()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("dalil version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads and validates config and builds the logger (a quiet console logger for
// interactive commands). Exits the process on failure.
func setup(configPath string, debugFlag, needChat, console bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(needChat); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	newLogger := utils.NewLogger
	if console {
		newLogger = utils.NewConsoleLogger
	}
	logger, err := newLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", false, "re-ingest the source document when it changes (overrides source.watch)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug, true, false)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("chat_model", cfg.Chat.Model),
	)

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Source.IngestOnStartOrDefault() {
		n, err := ingestSource(ctx, components.Retriever, cfg.Source)
		if err != nil {
			logger.Fatal("Failed to ingest source document", zap.String("path", cfg.Source.Path), zap.Error(err))
		}
		logger.Info("source document indexed", zap.String("doc_id", cfg.Source.DocID), zap.Int("chunks", n))
	}

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if cfg.Source.Watch || *watch {
		w, err := watcher.NewWatcher(
			[]string{cfg.Source.Path},
			func(path string) {
				n, err := ingestSource(context.Background(), components.Retriever, cfg.Source)
				if err != nil {
					logger.Warn("re-ingest failed", zap.String("path", path), zap.Error(err))
					return
				}
				logger.Info("source document re-indexed", zap.String("path", path), zap.Int("chunks", n))
			},
			watcher.WithLogger(utils.NewComponentLogger(logger, "watcher")),
		)
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(server.Deps{
		Chat:      components.Orchestrator,
		Retrieval: components.Retriever,
		Memory:    components.Memory,
		Index:     components.Index,
		Config:    cfg,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

func ingestSource(ctx context.Context, r *retriever.Retriever, src config.SourceConfig) (int, error) {
	res, err := r.Ingest(ctx, models.IngestRequest{DocID: src.DocID, Path: src.Path})
	if err != nil {
		return 0, err
	}
	return res.Chunks, nil
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	session := fs.String("session", defaultSessionID, "conversation session id")
	fresh := fs.Bool("new", false, "start a new session with a random id")
	skipIngest := fs.Bool("no-ingest", false, "skip indexing the source document before chatting")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, *debug, true, true)
	defer logger.Sync()

	sessionID := resolveSession(*session, *fresh)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	if !*skipIngest && cfg.Source.IngestOnStartOrDefault() {
		if _, err := ingestSource(ctx, components.Retriever, cfg.Source); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to ingest %s: %v\n", cfg.Source.Path, err)
			os.Exit(1)
		}
	}
	if sessionID != defaultSessionID {
		fmt.Printf("session: %s\n", sessionID)
	}
	if err := cli.RunConsole(ctx, os.Stdin, os.Stdout, components.Orchestrator, sessionID, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Console failed: %v\n", err)
		os.Exit(1)
	}
}

// resolveSession returns a fresh UUID when fresh is set, otherwise the trimmed id
// (defaultSessionID when blank).
func resolveSession(id string, fresh bool) string {
	if fresh {
		return uuid.New().String()
	}
	if id = strings.TrimSpace(id); id == "" {
		return defaultSessionID
	}
	return id
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	docID := fs.String("doc-id", "", "document id (default: source.doc_id for the configured source, else derived from the file name)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	cfg, _, logger := setup(*configPath, false, false, true)
	defer logger.Sync()

	req := ingestRequestFor(cfg.Source, fs.Args(), *docID)
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	res, err := components.Retriever.Ingest(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Indexed %s: %d chunks\n", res.DocID, res.Chunks)
}

// ingestRequestFor builds the request for `dalil ingest [path]`. Without a path the configured
// source is ingested under its configured id.
func ingestRequestFor(src config.SourceConfig, args []string, docID string) models.IngestRequest {
	if len(args) == 0 {
		if docID == "" {
			docID = src.DocID
		}
		return models.IngestRequest{DocID: docID, Path: src.Path}
	}
	path := args[0]
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if docID == "" && filepath.Clean(path) == filepath.Clean(src.Path) {
		docID = src.DocID
	}
	return models.IngestRequest{DocID: docID, Path: path}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	topK := fs.Int("top-k", 0, "number of chunks to return (default: chat.top_k)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: dalil query [flags] <text>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))

	text := buildQueryText(fs.Args())
	if text == "" {
		fs.Usage()
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, _, logger := setup(*configPath, false, false, true)
	defer logger.Sync()

	q := &models.Query{Query: text, TopK: *topK}
	if q.TopK == 0 {
		q.TopK = cfg.Chat.TopK
	}
	if err := q.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid query: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	start := time.Now()
	results, err := components.Retriever.Query(ctx, q.Query, q.TopK, q.Filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	resp := &models.QueryResponse{
		Query:     q.Query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	}
	if err := cli.WriteQueryResults(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	session := fs.String("session", defaultSessionID, "conversation session id")
	limit := fs.Int("limit", 20, "number of most recent messages")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, false, false, true)
	defer logger.Sync()

	ctx := context.Background()
	mem, err := memory.Open(ctx, cfg.Storage.MemoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open memory: %v\n", err)
		os.Exit(1)
	}
	defer mem.Close()

	turns, err := mem.Recent(ctx, *session, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "History failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteTurns(os.Stdout, *session, turns, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "", "server URL, e.g. http://localhost:8000 (empty = read local stores)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status *server.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, _, logger := setup(*configPath, false, false, true)
		defer logger.Sync()
		ctx := context.Background()
		components, err := initializeComponents(ctx, cfg, logger, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		status, err = server.CollectStatus(ctx, components.Index, components.Memory, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*server.Status, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(serverURL, "/") + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s server.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// buildQueryText joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQueryText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that follow positional arguments to the front so the flag
// package sees them ("dalil query return policy -top-k 5").
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// Components holds the wired stores and services.
type Components struct {
	Embedder     embedding.Embedder
	Index        *index.Store
	Retriever    *retriever.Retriever
	Memory       *memory.SQLiteMemory
	Orchestrator *chat.Orchestrator
}

// Close releases every opened resource.
func (c *Components) Close() {
	if c.Memory != nil {
		_ = c.Memory.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// initializeComponents opens the index and turn log and wires the retriever. The completion
// client and orchestrator are only built when withChat is set.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withChat bool) (*Components, error) {
	var client *openai.Client
	if cfg.NeedsAPIKey(withChat) {
		client = llm.NewOpenAIClient(cfg.OpenAI)
	}

	c := &Components{}
	embedder, err := embedding.New(cfg.Embedding, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	idx, err := index.Open(ctx, index.Options{
		Dir:        cfg.Storage.IndexDir,
		Collection: cfg.Storage.Collection,
	}, embedder, index.WithLogger(utils.NewComponentLogger(logger, "index")))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	c.Index = idx

	ch, err := chunker.NewChunker(cfg.Chunking.Size, cfg.Chunking.OverlapOrDefault(), chunker.Unit(cfg.Chunking.Unit), cfg.Chunking.SentenceLookbackOrDefault())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	c.Retriever = retriever.New(idx, ch,
		retriever.WithExtractor(extract.NewExtractor()),
		retriever.WithLogger(utils.NewComponentLogger(logger, "retriever")),
	)

	mem, err := memory.Open(ctx, cfg.Storage.MemoryPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open memory: %w", err)
	}
	c.Memory = mem

	if withChat {
		completer, err := llm.NewOpenAICompleter(client, cfg.Chat.Model)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize completer: %w", err)
		}
		c.Orchestrator = chat.NewOrchestrator(c.Retriever, mem, completer,
			chat.WithTopK(cfg.Chat.TopK),
			chat.WithHistoryLimit(cfg.Chat.HistoryLimit),
			chat.WithLogger(utils.NewComponentLogger(logger, "chat")),
		)
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`dalil - Document-grounded store support assistant

Usage:
  dalil server [flags]          Index the store document and serve the chat API
  dalil chat [flags]            Chat in the terminal (type exit to quit)
  dalil ingest [flags] [path]   Index a document (default: the configured source)
  dalil query [flags] <text>    Show the chunks retrieved for a question
  dalil history [flags]         Show recent messages of a session
  dalil status [flags]          Show index, turn log and config summary
  dalil version                 Show version
  dalil help                    Show this help

Server Flags:
  --config string    Config file path (default: ./config.yaml, then /usr/local/etc/dalil/config.yaml)
  --debug            Enable debug logging
  --watch            Re-index the source document when it changes

Chat Flags:
  --session string   Session id (default: local)
  --new              Start a new session with a random id
  --no-ingest        Do not index the source document first

Ingest Flags:
  --doc-id string    Document id (default: derived from the file name)

Query Flags:
  --top-k int        Number of chunks (default: chat.top_k)
  --output string    Output format: text or json (default: text)

History Flags:
  --session string   Session id (default: local)
  --limit int        Number of messages (default: 20)
  --output string    Output format: text or json

Status Flags:
  --server string    Server URL; empty reads the local stores
  --output string    Output format: text or json (default: text)

Environment:
  OPENAI_API_KEY     Read from the environment or a .env file in the working directory

Examples:
  dalil server
  dalil chat --new
  dalil ingest ./data/store_manual.txt
  dalil query "سياسة الاسترجاع" --top-k 5
  dalil history --session local --limit 10
  dalil status --output json`)
}
