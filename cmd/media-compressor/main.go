package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"media-compressor-go/internal/app"
	"media-compressor-go/internal/batch"
	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/config"
	"media-compressor-go/internal/logger"
	"media-compressor-go/internal/media"
	"media-compressor-go/internal/probe"
	"media-compressor-go/internal/saver"
	"media-compressor-go/internal/statistics"
	"media-compressor-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	quality   string
	outputDir string
	category  string
	verbose   bool
	quiet     bool
	port      int
)

// rootCmd compresses the given files and writes the results to --output.
var rootCmd = &cobra.Command{
	Use:   "media-compressor [files...]",
	Short: "Compress images, PDFs, audio and video in small batches",
	Long: `MediaCompressor groups files by media category and compresses each
batch at the selected quality tier.

Features:
- Images are resized and re-encoded as JPEG (PNG kept where it pays off)
- PDFs are rewritten with object streams and deduplicated resources
- Audio and video are transcoded with ffmpeg at tier-specific targets
- Batches hold at most a few files; oversized submissions are refused whole
- A web interface with live job events (see "serve")`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd.Context(), args)
	},
}

// probeCmd prints the metadata of one audio or video file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show duration, bitrate and resolution of a media file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd.Context(), args[0])
	},
}

// serveCmd starts the web interface server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web interface server",
	Long: `Starts a web server exposing one batch per media category.
Files are uploaded, compressed and downloaded over HTTP, and job
state changes are streamed on /ws.

Access the interface at http://localhost:<port> (default: web.port)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVarP(&quality, "quality", "q", "", "quality tier: low, medium or high (default: batch.default_quality)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "./compressed", "directory for compressed files")
	rootCmd.Flags().StringVar(&category, "category", "", "only compress files of this category (image, pdf, audio, video)")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default: web.port)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress admits the files into their category batches, compresses every
// batch and saves the completed outputs.
func runCompress(ctx context.Context, paths []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var only media.Category
	if category != "" {
		if only, err = media.ParseCategory(category); err != nil {
			return err
		}
	}
	var tier media.Quality
	if quality != "" {
		if tier, err = media.ParseQuality(quality); err != nil {
			return err
		}
	}

	log := setupLogger(cfg)
	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	groups := groupFiles(a, paths, only, log)

	out, err := saver.NewDirSaver(outputDir, log)
	if err != nil {
		return err
	}

	var controllers []*batch.Controller
	for _, cat := range media.Categories() {
		files := groups[cat]
		if len(files) == 0 {
			continue
		}
		c, err := a.Session.Controller(cat)
		if err != nil {
			return err
		}
		if tier != "" {
			c.SetQuality(tier)
		}
		res, err := c.Admit(files)
		var capErr *batch.CapacityError
		switch {
		case errors.As(err, &capErr):
			fmt.Fprintf(os.Stderr, "Skipping %s batch: %v\n", cat, capErr)
			continue
		case err != nil:
			return err
		}
		for _, name := range res.Unsupported {
			fmt.Fprintf(os.Stderr, "Unsupported %s file: %s\n", cat, name)
		}
		controllers = append(controllers, c)
	}

	for _, c := range controllers {
		c.Wait()
		if err := c.RunCompression(ctx); err != nil {
			return fmt.Errorf("%s batch: %w", c.Category(), err)
		}
		if _, err := c.DownloadCompleted(ctx, out); err != nil {
			return fmt.Errorf("saving %s batch: %w", c.Category(), err)
		}
	}

	if !quiet {
		printResults(controllers)
		fmt.Printf("\nSaved %d file(s) to %s\n", len(out.Saved()), outputDir)
		a.Stats.Finalize()
		fmt.Println("\n" + a.Stats.GetSummary())
		if a.Stats.GetErrorCount() > 0 {
			fmt.Println("\n" + a.Stats.GetErrorSummary())
		}
	}
	return nil
}

// groupFiles stages every readable path and sorts it into its category.
func groupFiles(a *app.App, paths []string, only media.Category, log *logrus.Logger) map[media.Category][]media.SourceFile {
	sets := a.Config.AcceptSets()
	groups := make(map[media.Category][]media.SourceFile)
	for _, path := range paths {
		src, err := a.StageFile(path)
		if err != nil {
			logger.WithFileOperation(log, path, "stage").Warnf("Skipping file: %v", err)
			continue
		}
		cat, ok := media.Classify(src.MediaType, sets)
		if !ok || (only != "" && cat != only) {
			fmt.Fprintf(os.Stderr, "Unsupported file: %s (%s)\n", src.Name, src.MediaType)
			a.Registry.Release(src.Handle)
			continue
		}
		groups[cat] = append(groups[cat], src)
	}
	return groups
}

func printResults(controllers []*batch.Controller) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCATEGORY\tSTATE\tORIGINAL\tCOMPRESSED\tSAVED")
	for _, c := range controllers {
		for _, j := range c.ListJobs() {
			compressed, saved := "-", "-"
			if j.Result != nil {
				compressed = statistics.FormatBytes(j.Result.CompressedSize)
				saved = compressor.FormatSavings(j.Result.SavingsPercent) + "%"
			} else if j.FailureReason != "" {
				saved = j.FailureReason
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.Name, j.Category, j.State, statistics.FormatBytes(j.OriginalSize), compressed, saved)
		}
	}
	tw.Flush()
}

// runProbe prints the metadata of a single file.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := setupLogger(cfg)

	src, err := media.NewSourceFile(path)
	if err != nil {
		return err
	}
	cat, ok := media.Classify(src.MediaType, cfg.AcceptSets())
	if !ok {
		return fmt.Errorf("unsupported media type %s", src.MediaType)
	}
	fmt.Printf("File:       %s\n", src.Name)
	fmt.Printf("Type:       %s (%s)\n", src.MediaType, cat)
	fmt.Printf("Size:       %s\n", statistics.FormatBytes(src.Size))
	if !cat.IsTimeBased() {
		return nil
	}

	prober, err := app.NewProber(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Probe.Timeout)
	defer cancel()
	md, err := probe.NewService(prober, log).Probe(ctx, cat, src)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	fmt.Printf("Duration:   %s\n", md.FormatDuration())
	fmt.Printf("Bitrate:    %s\n", md.Bitrate())
	if r := md.Resolution(); r != "" {
		fmt.Printf("Resolution: %s\n", r)
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if port == 0 {
		port = cfg.Web.Port
	}

	log := setupLogger(cfg)
	a, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer a.Close()
	server := web.NewServer(a)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("MediaCompressor web interface started\n")
	fmt.Printf("Open your browser and go to: http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
