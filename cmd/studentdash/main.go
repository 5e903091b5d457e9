package main

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/studentdash/internal/auth"
	"github.com/pavelanni/studentdash/internal/handler"
	appI18n "github.com/pavelanni/studentdash/internal/i18n"
	"github.com/pavelanni/studentdash/internal/llm"
	"github.com/pavelanni/studentdash/internal/llm/prompts"
	"github.com/pavelanni/studentdash/internal/model"
	"github.com/pavelanni/studentdash/internal/source"
	"github.com/pavelanni/studentdash/internal/store"
)

const sessionCleanupInterval = time.Hour

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "studentdash",
		Short: "Live student performance dashboard",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), addUserCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `studentdash --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP dashboard server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "studentdash.db", "SQLite database path")
	f.String("source", "sqlite", "Record source (sqlite, file)")
	f.String("source-file", "records.json", "JSON records file watched when --source=file")
	f.String("records-path", "Students", "Path of the student collection in the record tree")
	f.StringP("lang", "l", "en", "UI language (en, pt)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /dash)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-email", "admin@localhost", "Email of the initial admin account")
	f.String("admin-password", "", "Initial admin password (or set STUDENTDASH_ADMIN_PASSWORD)")
	f.StringSlice("cors-origins", nil, "Origins allowed to call the JSON API (repeatable)")
	f.String("llm-url", "", "OpenAI-compatible API base URL; empty disables insights")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("insight-tone", string(prompts.ToneStandard), "Insight tone (strict, standard, encouraging)")
	addLogFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON records file into the record tree",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "studentdash.db", "SQLite database path")
	f.String("records-path", "Students", "Path the file contents are stored at")
	f.Bool("force", false, "Import even if the file is unchanged since the last import")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export student and subject summaries as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "studentdash.db", "SQLite database path")
	f.String("records-path", "Students", "Path of the student collection in the record tree")
	f.Bool("exercises", false, "Include the flat exercise list")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func addUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a dashboard account",
		RunE:  runAddUser,
	}
	f := cmd.Flags()
	f.String("db", "studentdash.db", "SQLite database path")
	f.String("email", "", "Account email (required)")
	f.String("password", "", "Account password (required)")
	f.String("display-name", "", "Name shown in the header")
	f.String("photo-url", "", "Avatar URL shown in the header")
	f.String("role", string(model.UserRoleTeacher), "Role (teacher, admin)")
	f.Bool("reset", false, "Replace the password of an existing account instead of creating one")
	addLogFlags(cmd)

	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("STUDENTDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("studentdash")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/studentdash")
	v.AddConfigPath("/etc/studentdash")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(ctx, db, v.GetString("admin-email"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if last, err := db.LastImport(ctx); err == nil && !last.IsZero() {
		slog.Info("records last imported", "at", last)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	src, closeSrc, err := openSource(db, v.GetString("source"), v.GetString("source-file"))
	if err != nil {
		return fmt.Errorf("open record source: %w", err)
	}
	defer closeSrc()

	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		tone := prompts.Tone(strings.ToLower(strings.TrimSpace(v.GetString("insight-tone"))))
		llmClient, err = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), tone)
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		if err := llmClient.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
	}

	basePath := normalizeBasePath(v.GetString("base-path"))
	cfg := model.Config{
		RecordsPath:   v.GetString("records-path"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	}

	h, err := handler.New(db, src, llmClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	go cleanupSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
		// Event streams end when the shutdown signal cancels their request context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"source", v.GetString("source"),
		"records_path", cfg.RecordsPath,
		"base_path", basePath,
		"insights", llmClient != nil,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openSource returns the record source pages read from and a func releasing it.
func openSource(db *store.Store, kind, file string) (source.Source, func(), error) {
	switch strings.ToLower(kind) {
	case "", "sqlite":
		return db, func() {}, nil
	case "file":
		fs, err := source.NewFileSource(file)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {
			if err := fs.Close(); err != nil {
				slog.Warn("close records file watcher", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown source %q (want sqlite or file)", kind)
	}
}

func cleanupSessions(ctx context.Context, db *store.Store) {
	t := time.NewTicker(sessionCleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := db.CleanupExpiredSessions(ctx)
			if err != nil {
				slog.Error("failed to clean up sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("removed expired sessions", "count", n)
			}
		}
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	_, err = importRecords(cmd.Context(), db, args[0], v.GetString("records-path"), v.GetBool("force"))
	return err
}

// importRecords stores the JSON object in file at recordsPath, replacing what
// was there. A file whose content hash matches the previous import is skipped
// unless force is set. It reports whether anything was written.
func importRecords(ctx context.Context, db *store.Store, file, recordsPath string, force bool) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", file, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, file)
	if err != nil {
		return false, fmt.Errorf("check import status for %s: %w", file, err)
	}
	if storedHash == hash && !force {
		slog.Info("records file unchanged, skipping", "path", file)
		return false, nil
	}

	var records map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return false, fmt.Errorf("parse %s: %w", file, err)
	}
	if err := db.Set(ctx, recordsPath, records); err != nil {
		return false, fmt.Errorf("store records from %s: %w", file, err)
	}
	if err := db.SetImportedFileHash(ctx, file, hash); err != nil {
		return false, fmt.Errorf("record import for %s: %w", file, err)
	}
	slog.Info("imported records", "path", file, "records_path", recordsPath, "top_level_keys", len(records))
	return true, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportDashboard(cmd.Context(), v.GetString("records-path"), v.GetBool("exercises"))
	if err != nil {
		return fmt.Errorf("export dashboard: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func runAddUser(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	role := model.UserRole(v.GetString("role"))
	if role != model.UserRoleTeacher && role != model.UserRoleAdmin {
		return fmt.Errorf("unknown role %q (want teacher or admin)", role)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(v.GetString("password"))
	if err != nil {
		return err
	}
	email := v.GetString("email")
	if v.GetBool("reset") {
		return resetPassword(cmd.Context(), db, email, hash)
	}
	id, err := db.CreateUser(cmd.Context(), model.User{
		Email:        email,
		DisplayName:  cmp.Or(v.GetString("display-name"), email),
		PhotoURL:     v.GetString("photo-url"),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	slog.Info("created user", "id", id, "email", email, "role", role)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, email, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or STUDENTDASH_ADMIN_PASSWORD env var")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "email", email)
	return nil
}

func resetPassword(ctx context.Context, db *store.Store, email, hash string) error {
	u, err := db.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("look up user: %w", err)
	}
	if u == nil {
		return fmt.Errorf("no account for %s", email)
	}
	if err := db.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	slog.Info("password reset", "id", u.ID, "email", u.Email)
	return nil
}
