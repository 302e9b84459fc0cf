package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/Zeed80/invoice-recognition/internal/detect"
	"github.com/Zeed80/invoice-recognition/internal/extract"
	"github.com/Zeed80/invoice-recognition/internal/invoice"
	"github.com/Zeed80/invoice-recognition/internal/ocr"
	"github.com/Zeed80/invoice-recognition/internal/queue"
	"github.com/Zeed80/invoice-recognition/internal/table"
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

	fs := ff.NewFlagSet("invoice-recognition")
	var (
		input       = fs.StringLong("input", "", "Single invoice image to process (jpg, png, gif, heic or pdf)")
		batchDir    = fs.StringLong("batch-dir", "", "Directory of invoice images to process through the queue")
		dbPath      = fs.StringLong("db", "invoices.db", "Snapshot database file path")
		queuePath   = fs.StringLong("queue-db", "queue.db", "Task queue database file path")
		outputDir   = fs.StringLong("output", "./output", "Output directory for visualizations")
		ocrBackend  = fs.StringLong("ocr", "local", "OCR backend: 'local', 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		tessdata    = fs.StringLong("tessdata", "", "Tesseract data directory (local backend)")
		langs       = fs.StringLong("langs", "rus+eng", "Tesseract languages, '+'-separated (local backend)")
		visualize   = fs.BoolLong("visualize", "Save images with labeled detection boxes")
		save        = fs.BoolLong("save", "Persist processing snapshots to the database")
		maxSize     = fs.IntLong("max-size", 100, "Maximum number of live tasks in the queue")
		maxRetries  = fs.IntLong("max-retries", 3, "Failed attempts before a task fails permanently")
		workers     = fs.IntLong("workers", 2, "Number of queue workers for batch processing")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_RECOGNITION"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *input == "" && *batchDir == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: either --input or --batch-dir is required")
		os.Exit(1)
	}

	// Initialize OCR backend
	var engine ocr.Engine
	var err error
	switch *ocrBackend {
	case "local":
		slog.Info("Initializing Tesseract...", "languages", *langs)
		engine, err = ocr.NewTesseract(*tessdata, strings.Split(*langs, "+")...)
		if err != nil {
			slog.Error("Failed to initialize Tesseract", "error", err)
			os.Exit(1)
		}
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini...", "model", *geminiModel)
		engine, err = ocr.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		engine, err = ocr.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid OCR backend", "backend", *ocrBackend, "valid", "local, gemini or ollama")
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize stores
	slog.Info("Initializing snapshot database...")
	snapshots, err := invoice.NewBoltSnapshots(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize snapshot database", "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	storage, err := invoice.NewOutputStorage(*outputDir)
	if err != nil {
		slog.Error("Failed to initialize output storage", "error", err)
		os.Exit(1)
	}

	// Assemble the pipeline
	processor := invoice.NewProcessor(
		invoice.NewLoader(),
		detect.New(nil),
		ocr.NewRecognizer(engine),
		table.New(),
		extract.New(),
		snapshots,
		storage,
	)
	opts := invoice.Options{Visualize: *visualize, Save: *save}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *input != "" {
		runSingle(ctx, processor, *input, opts)
		return
	}
	runBatch(ctx, processor, *batchDir, opts, *queuePath, *maxSize, *maxRetries, *workers)
}

// runSingle processes one invoice and prints the structured result as JSON.
func runSingle(ctx context.Context, processor *invoice.Processor, path string, opts invoice.Options) {
	structured, err := processor.Process(ctx, path, opts)
	if err != nil {
		slog.Error("Failed to process invoice", "path", path, "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		slog.Error("Failed to encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// runBatch enqueues every invoice image in dir and drains the queue with a
// pool of workers. Interrupts stop the workers between tasks; pending tasks
// survive in the queue database and are picked up on the next run.
func runBatch(ctx context.Context, processor *invoice.Processor, dir string, opts invoice.Options, queuePath string, maxSize, maxRetries, workers int) {
	manager, err := queue.NewManager(queuePath, maxSize, maxRetries)
	if err != nil {
		slog.Error("Failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Error("Failed to read batch directory", "dir", dir, "error", err)
		os.Exit(1)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !invoice.IsInvoiceFile(path) {
			continue
		}
		if _, ok := manager.AddTask(queue.TypeInvoice, map[string]any{"image_path": path}); !ok {
			slog.Warn("Could not enqueue invoice", "path", path)
		}
	}

	var wg sync.WaitGroup
	workerCtx, cancel := context.WithCancel(ctx)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue.NewWorker(manager, processor, opts).Run(workerCtx)
		}()
	}

	// Stop the workers once the queue drains or a signal arrives.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
drain:
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutting down...")
			break drain
		case <-ticker.C:
			stats := manager.GetQueueStats()
			if stats.Status[queue.StatusPending]+stats.Status[queue.StatusProcessing] == 0 {
				break drain
			}
		}
	}
	cancel()
	wg.Wait()

	stats := manager.GetQueueStats()
	slog.Info("Batch finished",
		"total", stats.Total,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"retries", stats.Retries,
	)
}
