package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"dicomconv/internal/convert"
	dcm "dicomconv/internal/dicom"
	"dicomconv/internal/progress"
)

// Options holds CLI configuration options
type Options struct {
	InputFolder  string
	OutputFolder string
	Formats      []string
	Quality      int
	Recursive    bool
	RetryFailed  bool
}

// Runner converts a folder from the command line.
type Runner struct {
	Service *convert.Service
	Dcmtk   dcm.Dcmtk
	// Out and In default to stdout and stdin.
	Out io.Writer
	In  io.Reader
	// SkipToolCheck disables the interactive dcmtk check.
	SkipToolCheck bool
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return os.Stdout
	}
	return r.Out
}

// Run executes the CLI conversion process
func (r *Runner) Run(ctx context.Context, opts Options) error {
	if !r.SkipToolCheck {
		if err := r.checkDcmtkStatus(); err != nil {
			return err
		}
	}

	if opts.InputFolder == "" {
		return fmt.Errorf("input folder is required")
	}
	info, err := os.Stat(opts.InputFolder)
	if err != nil {
		return fmt.Errorf("input folder does not exist: %s", opts.InputFolder)
	}
	if !info.IsDir() {
		return fmt.Errorf("input path is not a directory: %s", opts.InputFolder)
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{"jpeg"}
	}

	r.printHeader(opts)

	pb := newProgressBar(r.out(), 50)
	stats, err := r.Service.ProcessFolder(ctx, convert.FolderConfig{
		InputFolder:  opts.InputFolder,
		OutputFolder: opts.OutputFolder,
		Formats:      opts.Formats,
		Quality:      opts.Quality,
		Recursive:    opts.Recursive,
		RetryFailed:  opts.RetryFailed,
	}, func(current, total int, _ string, _ progress.Status) {
		pb.update(current, total)
	})
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	if total := stats.Success + stats.Failed + stats.Skipped; total > 0 {
		pb.update(total, total)
		fmt.Fprintln(r.out())
	}

	r.printSummary(stats)
	return nil
}

// PrintUsage prints CLI usage information
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, `DICOM Converter

USAGE:
  dicomconv                           Run the HTTP API server (default)
  dicomconv -i <path> [flags]         Convert a folder from the command line

FLAGS:
  -i, --input <path>      Input folder containing DICOM files (CLI mode)
  -o, --output <path>     Output folder (default: {input}/converted)
  -f, --formats <list>    Comma separated output formats: jpeg,png,tiff,pdf,mp4
                          (default: jpeg)
  -q, --quality <n>       JPEG quality 1-100 (default: 95)
  -r, --recursive         Search subdirectories (default: true)
      --retry-failed      Retry files that failed in a previous run
  -c, --config <path>     YAML configuration file
      --addr <addr>       Listen address in server mode (overrides config)
  -h, --help              Show this help message

SERVER MODE:
  Settings come from the config file, a .env file and DICOMCONV_*
  environment variables, e.g. DICOMCONV_JWT_SECRET, DICOMCONV_API_KEYS,
  DICOMCONV_ADMIN_PASSWORD, DICOMCONV_DATA_DIR.

EXAMPLES:
  # Convert every study below /data/scans to JPEG and PNG
  ./dicomconv -i /data/scans -f jpeg,png

  # Cine loops to MP4 in a separate folder
  ./dicomconv -i /data/echo -f mp4 -o /exports/echo

  # Retry failed files from a previous run
  ./dicomconv -i /data/scans -f tiff --retry-failed

OUTPUT:
  Converted files: {output}/<relative path>/<name>.<format>
  Progress file:   {output}/.progress.json (completed files are skipped)
  Error log:       {output}/errors.log`)
}

// printHeader prints the CLI header with configuration
func (r *Runner) printHeader(opts Options) {
	w := r.out()
	output := opts.OutputFolder
	if output == "" {
		output = "(input)/converted"
	}

	fmt.Fprintln(w, "DICOM Converter")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Input:     %s\n", opts.InputFolder)
	fmt.Fprintf(w, "Output:    %s\n", output)
	fmt.Fprintf(w, "Formats:   %s\n", strings.Join(opts.Formats, ", "))

	var options []string
	if opts.Recursive {
		options = append(options, "Recursive")
	}
	if opts.RetryFailed {
		options = append(options, "Retry failed")
	}
	if len(options) > 0 {
		fmt.Fprintf(w, "Options:   %s\n", strings.Join(options, ", "))
	}
	fmt.Fprintln(w)
}

// printSummary prints the processing summary
func (r *Runner) printSummary(stats *convert.Stats) {
	w := r.out()
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Complete! %d succeeded, %d failed, %d skipped\n",
		stats.Success, stats.Failed, stats.Skipped)
	fmt.Fprintf(w, "Output:    %s\n", stats.Output)
	if stats.Failed > 0 {
		fmt.Fprintf(w, "Errors:    %s\n", stats.LogFile)
	}
}

// progressBar represents a terminal progress bar
type progressBar struct {
	w     io.Writer
	width int
}

func newProgressBar(w io.Writer, width int) *progressBar {
	return &progressBar{w: w, width: width}
}

func (pb *progressBar) update(current, total int) {
	if total == 0 {
		return
	}

	percent := float64(current) / float64(total)
	filled := min(int(percent*float64(pb.width)), pb.width)

	bar := strings.Repeat("#", filled) + strings.Repeat("-", pb.width-filled)
	fmt.Fprintf(pb.w, "\r[%s] %3.0f%%  (%d/%d)", bar, percent*100, current, total)
}

// checkDcmtkStatus offers to install dcmtk when it is missing. Conversion
// continues without it; only JPEG-LS input needs it.
func (r *Runner) checkDcmtkStatus() error {
	if r.Dcmtk.Installed() {
		return nil
	}
	w := r.out()

	fmt.Fprintln(w, "Warning: dcmtk is not installed.")
	fmt.Fprintln(w, "dcmtk is required to convert JPEG-LS compressed DICOM files.")
	fmt.Fprintln(w)

	installCmd := getDcmtkInstallCommand()
	if installCmd == "" {
		fmt.Fprintln(w, "Install dcmtk using your system package manager to convert JPEG-LS files.")
		return nil
	}

	fmt.Fprintf(w, "Install command: %s\n", installCmd)
	fmt.Fprintln(w)
	fmt.Fprint(w, "Would you like to install dcmtk now? [y/N]: ")

	in := r.In
	if in == nil {
		in = os.Stdin
	}
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Continuing without dcmtk. JPEG-LS files will fail to convert.")
		return nil
	}

	response = strings.TrimSpace(strings.ToLower(response))
	if response != "y" && response != "yes" {
		fmt.Fprintln(w, "Continuing without dcmtk. JPEG-LS files will fail to convert.")
		return nil
	}

	fmt.Fprintln(w, "Installing dcmtk...")
	cmd := exec.Command("bash", "-lc", installCmd)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(w, "Installation failed: %v\n", err)
		return fmt.Errorf("dcmtk installation failed: %w", err)
	}

	if !r.Dcmtk.Installed() {
		fmt.Fprintln(w, "Installation completed but dcmtk is not in PATH.")
		return fmt.Errorf("dcmtk not found after installation")
	}

	fmt.Fprintln(w, "dcmtk installed successfully!")
	fmt.Fprintln(w)
	return nil
}

// getDcmtkInstallCommand returns the platform-specific installation command
func getDcmtkInstallCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "brew install dcmtk"
	case "linux":
		return "sudo apt-get update && sudo apt-get install -y dcmtk"
	default:
		return ""
	}
}
