package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/scholardoc/internal/config"
	"github.com/MeKo-Tech/scholardoc/internal/events"
	"github.com/MeKo-Tech/scholardoc/internal/pipeline"
	"github.com/MeKo-Tech/scholardoc/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run the two-phase OCR pipeline over a batch of PDFs",
	Long: `Process scanned PDFs through the two-phase pipeline. Inputs come
from the positional arguments, the configured file list, or every *.pdf
under --input-dir.

The exit code is 0 when every file succeeded, 1 when any file failed and
130 when interrupted.

Examples:
  scholardoc run --input-dir ./scans --output-dir ./out
  scholardoc run kant.pdf -o ./out --languages en,de --diagnostics
  scholardoc run --input-dir ./scans -o ./out --format json > result.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown format %q (use text, json or yaml)", format)
		}

		if cfg.OutputDir == "" {
			return fmt.Errorf("no output directory configured (use --output-dir)")
		}

		inputs, err := collectInputs(cfg, args)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return fmt.Errorf("no input PDFs found")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := pipeline.New(*cfg, pipeline.WithCallback(newConsoleCallback(cmd.ErrOrStderr())))
		batch, err := p.Run(ctx, inputs)
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "interrupted")
			return &exitError{code: 130}
		}
		if err != nil {
			return err
		}

		if err := writeBatchResult(cmd.OutOrStdout(), batch, format); err != nil {
			return err
		}
		if batch.Failed > 0 {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("input-dir", "i", "", "directory containing input PDFs")
	runCmd.Flags().StringP("output-dir", "o", "", "output directory (final/, work/, logs/ are created below it)")
	runCmd.Flags().BoolP("recursive", "r", false, "recurse into subdirectories of the input directory")
	runCmd.Flags().Float64("quality-threshold", 0.85, "page flagging cutoff in [0,1]")
	runCmd.Flags().Bool("force-tesseract", false, "always run the fast engine, even on good existing text")
	runCmd.Flags().Bool("force-surya", false, "send every page through the neural pass")
	runCmd.Flags().StringP("languages", "l", "en,fr,el,la,de", "comma-separated ISO 639-1 language codes")
	runCmd.Flags().String("langs-tesseract", "", "override fast-engine language codes (e.g. eng,fra)")
	runCmd.Flags().String("langs-surya", "", "override neural-engine language codes (e.g. en,fr)")
	runCmd.Flags().IntP("max-workers", "w", 4, "parallel workers for the fast phase")
	runCmd.Flags().Int("timeout", 1800, "per-file timeout in seconds")
	runCmd.Flags().Int("batch-size", 50, "maximum pages per neural sub-batch")
	runCmd.Flags().Bool("diagnostics", false, "enable per-page diagnostics and scan-quality metrics")
	runCmd.Flags().Bool("extract-text", false, "keep the per-file .txt output in final/")
	runCmd.Flags().Bool("keep-intermediates", false, "preserve the work/ directory after the run")
	runCmd.Flags().String("custom-vocab", "", "word-list file merged into the dictionary signal")
	runCmd.Flags().Int("max-samples", 20, "garbled-token samples kept per page")
	runCmd.Flags().String("device", "", "neural engine device (cpu, cuda, mps or auto)")
	runCmd.Flags().StringP("format", "f", "text", "batch result format: text, json or yaml")

	_ = viper.BindPFlag("input_dir", runCmd.Flags().Lookup("input-dir"))
	_ = viper.BindPFlag("output_dir", runCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("recursive", runCmd.Flags().Lookup("recursive"))
	_ = viper.BindPFlag("pipeline.quality_threshold", runCmd.Flags().Lookup("quality-threshold"))
	_ = viper.BindPFlag("pipeline.force_tesseract", runCmd.Flags().Lookup("force-tesseract"))
	_ = viper.BindPFlag("pipeline.force_surya", runCmd.Flags().Lookup("force-surya"))
	_ = viper.BindPFlag("pipeline.languages", runCmd.Flags().Lookup("languages"))
	_ = viper.BindPFlag("pipeline.langs_tesseract", runCmd.Flags().Lookup("langs-tesseract"))
	_ = viper.BindPFlag("pipeline.langs_surya", runCmd.Flags().Lookup("langs-surya"))
	_ = viper.BindPFlag("pipeline.max_workers", runCmd.Flags().Lookup("max-workers"))
	_ = viper.BindPFlag("pipeline.timeout", runCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("pipeline.batch_size", runCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("pipeline.diagnostics", runCmd.Flags().Lookup("diagnostics"))
	_ = viper.BindPFlag("pipeline.extract_text", runCmd.Flags().Lookup("extract-text"))
	_ = viper.BindPFlag("pipeline.keep_intermediates", runCmd.Flags().Lookup("keep-intermediates"))
	_ = viper.BindPFlag("pipeline.custom_vocab", runCmd.Flags().Lookup("custom-vocab"))
	_ = viper.BindPFlag("pipeline.max_samples", runCmd.Flags().Lookup("max-samples"))
	_ = viper.BindPFlag("pipeline.device", runCmd.Flags().Lookup("device"))
}

// collectInputs resolves the input PDF list: explicit arguments win, then
// the configured file list relative to input_dir, then every *.pdf under
// input_dir.
func collectInputs(cfg *config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		inputs := make([]string, 0, len(args))
		for _, arg := range args {
			if _, err := os.Stat(arg); err != nil {
				return nil, fmt.Errorf("input %q: %w", arg, err)
			}
			inputs = append(inputs, arg)
		}
		return inputs, nil
	}

	if len(cfg.Files) > 0 {
		inputs := make([]string, 0, len(cfg.Files))
		for _, name := range cfg.Files {
			path := filepath.Join(cfg.InputDir, name)
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("configured file %q: %w", name, err)
			}
			inputs = append(inputs, path)
		}
		return inputs, nil
	}

	if cfg.InputDir == "" {
		return nil, fmt.Errorf("no inputs given (pass files or set --input-dir)")
	}

	var inputs []string
	if cfg.Recursive {
		err := filepath.WalkDir(cfg.InputDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
				inputs = append(inputs, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %q: %w", cfg.InputDir, err)
		}
	} else {
		entries, err := os.ReadDir(cfg.InputDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", cfg.InputDir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				inputs = append(inputs, filepath.Join(cfg.InputDir, e.Name()))
			}
		}
	}
	sort.Strings(inputs)
	return inputs, nil
}

// writeBatchResult renders the batch result in the requested format.
func writeBatchResult(w io.Writer, batch *types.BatchResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(batch)
	case "yaml":
		// Route through the JSON form so the summary envelope and field
		// names match the sidecar schema.
		data, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return err
		}
		return yaml.NewEncoder(w).Encode(tree)
	default:
		writeSummaryTable(w, batch)
		return nil
	}
}

// writeSummaryTable prints the human-readable per-file table.
func writeSummaryTable(w io.Writer, batch *types.BatchResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tPAGES\tENGINE\tQUALITY\tFLAGGED\tTIME\tSTATUS")
	for _, fr := range batch.Files {
		status := "ok"
		if !fr.Success {
			status = "failed: " + firstLine(fr.Error)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.3f\t%d\t%.1fs\t%s\n",
			fr.Filename, fr.PageCount, fr.Engine, fr.QualityScore,
			len(fr.FlaggedPages()), fr.TimeSeconds, status)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d/%d files succeeded in %.1fs\n",
		batch.Successful, batch.TotalFiles, batch.TotalTime)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// consoleCallback prints coarse progress to stderr while logs go to the
// run's log files.
type consoleCallback struct {
	w io.Writer
}

func newConsoleCallback(w io.Writer) events.Callback {
	return &consoleCallback{w: w}
}

func (c *consoleCallback) OnPhase(e events.PhaseEvent) {
	fmt.Fprintf(c.w, "[%s] %s\n", e.Phase, e.Status)
}

func (c *consoleCallback) OnProgress(e events.ProgressEvent) {
	if e.File != "" {
		fmt.Fprintf(c.w, "[%s] %d/%d %s\n", e.Phase, e.Current, e.Total, e.File)
		return
	}
	fmt.Fprintf(c.w, "[%s] %s\n", e.Phase, e.Message)
}

func (c *consoleCallback) OnModel(e events.ModelEvent) {
	if e.TimeSeconds > 0 {
		fmt.Fprintf(c.w, "[models] %s %s (%.1fs)\n", e.ModelName, e.Status, e.TimeSeconds)
		return
	}
	fmt.Fprintf(c.w, "[models] %s %s\n", e.ModelName, e.Status)
}
