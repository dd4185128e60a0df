package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"dicomconv/internal/auth"
	"dicomconv/internal/cli"
	"dicomconv/internal/config"
	"dicomconv/internal/convert"
	"dicomconv/internal/database"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/encode"
	"dicomconv/internal/media"
	"dicomconv/internal/progress"
	"dicomconv/internal/server"
	"dicomconv/internal/staging"
	"dicomconv/internal/synth"
)

func main() {
	input := flag.String("input", "", "Input folder containing DICOM files")
	inputShort := flag.String("i", "", "Input folder (shorthand)")

	output := flag.String("output", "", "Output folder")
	outputShort := flag.String("o", "", "Output folder (shorthand)")

	formats := flag.String("formats", "", "Comma separated output formats")
	formatsShort := flag.String("f", "", "Output formats (shorthand)")

	quality := flag.Int("quality", 0, "JPEG quality 1-100")
	qualityShort := flag.Int("q", 0, "JPEG quality (shorthand)")

	recursive := flag.Bool("recursive", true, "Search subdirectories")
	recursiveShort := flag.Bool("r", true, "Recursive (shorthand)")

	retry := flag.Bool("retry-failed", false, "Retry files that failed in a previous run")

	configPath := flag.String("config", "", "YAML configuration file")
	configShort := flag.String("c", "", "Configuration file (shorthand)")

	addr := flag.String("addr", "", "Listen address in server mode")

	help := flag.Bool("help", false, "Show help message")
	helpShort := flag.Bool("h", false, "Help (shorthand)")

	flag.Usage = func() {
		cli.PrintUsage(os.Stderr)
	}

	flag.Parse()

	if *help || *helpShort {
		cli.PrintUsage(os.Stdout)
		return
	}

	// Merge short and long flags (prefer long if both specified)
	cfgFile := firstNonEmpty(*configPath, *configShort)
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "dicomconv",
		Level:      hclog.LevelFromString(cfg.Logging.Level),
		JSONFormat: cfg.Logging.JSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inputFolder := firstNonEmpty(*input, *inputShort)
	if inputFolder != "" {
		opts := cli.Options{
			InputFolder:  inputFolder,
			OutputFolder: firstNonEmpty(*output, *outputShort),
			Formats:      splitList(firstNonEmpty(*formats, *formatsShort)),
			Quality:      *quality,
			Recursive:    *recursive && *recursiveShort,
			RetryFailed:  *retry,
		}
		if opts.Quality == 0 {
			opts.Quality = *qualityShort
		}
		if err := runCLI(ctx, cfg, logger, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := runServer(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newService builds the conversion service with its external tools.
func newService(cfg *config.Config, logger hclog.Logger, stagingDir, artifactDir string) (*convert.Service, error) {
	tools := &media.Tools{
		FFmpeg:   cfg.Conversion.FFmpegPath,
		PDFInfo:  cfg.Conversion.PDFInfoPath,
		PDFToPPM: cfg.Conversion.PDFToPPMPath,
		Logger:   logger.Named("media"),
	}
	if missing := tools.Missing(); len(missing) > 0 {
		logger.Warn("external tools not found; dependent formats will fail", "missing", strings.Join(missing, ","))
	}

	root, err := staging.NewRoot(stagingDir, logger.Named("staging"))
	if err != nil {
		return nil, err
	}
	store, err := staging.OpenStore(artifactDir)
	if err != nil {
		root.Close()
		return nil, err
	}

	dcmtk := &dcm.Dcmtk{Path: cfg.Conversion.DcmtkPath}
	if !dcmtk.Installed() {
		dcmtk = nil
	}

	return &convert.Service{
		Encoder:        encode.New(tools, logger.Named("encode")),
		Synth:          synth.New(tools, logger.Named("synth")),
		Staging:        root,
		Store:          store,
		Dcmtk:          dcmtk,
		Logger:         logger.Named("convert"),
		Workers:        cfg.Conversion.Workers,
		DefaultQuality: cfg.Conversion.DefaultQuality,
	}, nil
}

func runCLI(ctx context.Context, cfg *config.Config, logger hclog.Logger, opts cli.Options) error {
	work, err := os.MkdirTemp("", "dicomconv-*")
	if err != nil {
		return fmt.Errorf("could not create work directory: %w", err)
	}
	defer os.RemoveAll(work)

	// Progress goes to the terminal; only problems are logged.
	logger.SetLevel(hclog.Warn)
	svc, err := newService(cfg, logger, filepath.Join(work, "staging"), filepath.Join(work, "artifacts"))
	if err != nil {
		return err
	}
	defer svc.Staging.Close()
	defer svc.Store.Close()

	runner := &cli.Runner{Service: svc, Dcmtk: dcm.Dcmtk{Path: cfg.Conversion.DcmtkPath}}
	return runner.Run(ctx, opts)
}

func runServer(ctx context.Context, cfg *config.Config, logger hclog.Logger) error {
	db, err := database.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	repo := auth.NewRepo(db)
	created, err := repo.EnsureUser(ctx, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("could not create admin user: %w", err)
	}
	if created {
		logger.Info("created admin user", "user", cfg.Auth.AdminUser)
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if secret, err = randomSecret(rand.Reader); err != nil {
			return fmt.Errorf("could not generate jwt secret: %w", err)
		}
		logger.Warn("no jwt secret configured; tokens will not survive a restart")
	}
	tokens := auth.TokenService{
		Secret:   []byte(secret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTTTL,
	}

	failures, err := progress.NewFailureLog(cfg.Storage.FailureLog)
	if err != nil {
		return err
	}
	defer failures.Close()

	svc, err := newService(cfg, logger, cfg.Storage.StagingDir, cfg.Storage.ArtifactDir)
	if err != nil {
		return err
	}
	svc.Failures = failures

	srv := &server.Server{
		Convert:        svc,
		Auth:           auth.NewHandler(repo, tokens, logger.Named("auth")),
		Tokens:         tokens,
		APIKeys:        auth.APIKeys(cfg.Auth.APIKeys),
		DB:             db,
		Logger:         logger.Named("server"),
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	}
	return srv.Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func randomSecret(r io.Reader) (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
