package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/mobile-capture/internal/app"
	"github.com/zombor/mobile-capture/internal/capture"
	"github.com/zombor/mobile-capture/internal/dispatch"
	"github.com/zombor/mobile-capture/internal/engine"
	"github.com/zombor/mobile-capture/internal/flexicapture"
	"github.com/zombor/mobile-capture/internal/settings"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("capture-server")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "capture.db", "Capture session database file path")
		settingsPath   = fs.StringLong("settings-db", "settings.db", "Settings database file path")
		storagePath    = fs.StringLong("storage", "./documents", "Storage directory for pages and PDFs")
		licensePath    = fs.StringLong("license", "license.key", "Recognition engine license file")
		engineType     = fs.StringLong("engine", "tesseract", "Recognition engine: 'tesseract', 'gemini' or 'ollama'")
		languages      = fs.StringLong("languages", "eng", "Comma separated Tesseract languages")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (defaults to the license contents)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		pageSizing     = fs.StringLong("page-sizing", string(capture.SizeToProfile), "PDF page sizing: 'profile' or 'image'")
		dpi            = fs.Float64Long("dpi", 150, "Resolution used to size PDF pages from images")
		maxDimension   = fs.IntLong("max-page-dimension", 3000, "Downscale page images whose long side exceeds this many pixels (0 disables)")
		requestTimeout = fs.DurationLong("request-timeout", 60*time.Second, "FlexiCapture request timeout")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("MOBILE_CAPTURE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	sizing, err := capture.ParsePageSizing(*pageSizing)
	if err != nil {
		slog.Error("Invalid page sizing", "error", err)
		os.Exit(1)
	}

	// Initialize recognition engine factory based on type
	var factory engine.Factory
	switch *engineType {
	case "tesseract":
		langs := strings.Split(*languages, ",")
		for i := range langs {
			langs[i] = strings.TrimSpace(langs[i])
		}
		slog.Info("Using Tesseract engine", "languages", langs)
		factory = engine.TesseractFactory(langs...)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Using Gemini engine", "model", *geminiModel)
		factory = engine.GeminiFactory(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Using Ollama engine", "url", *ollamaURL, "model", *ollamaModel)
		factory = engine.OllamaFactory(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid engine type", "type", *engineType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	recognizer := engine.NewRecognizer(factory)
	recognizer.SetLicensePath(*licensePath)
	defer recognizer.Close()

	// Initialize databases
	slog.Info("Initializing database...")
	db, err := capture.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := settings.Open(*settingsPath)
	if err != nil {
		slog.Error("Failed to open settings", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	pages, err := capture.NewLocalStorage(filepath.Join(*storagePath, capture.PageDirectory))
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	queue := dispatch.NewQueue()
	defer queue.Close()

	manager, err := capture.NewManager(*storagePath, capture.DefaultProfiles(), queue,
		capture.WithPageSizing(sizing),
		capture.WithDPI(*dpi),
		capture.WithMaxPageDimension(*maxDimension),
	)
	if err != nil {
		slog.Error("Failed to initialize document manager", "error", err)
		os.Exit(1)
	}

	client := flexicapture.NewClient(queue, &http.Client{Timeout: *requestTimeout})
	defer client.CancelAllRequests()

	// Initialize service
	sessions := capture.NewSessions(db, pages, manager)
	service := app.NewService(sessions, manager, recognizer, store, client)

	// Initialize server
	basicAuth := app.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := app.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
