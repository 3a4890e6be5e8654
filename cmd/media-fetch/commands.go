package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"media-fetch-go/pkg/types"
)

var downloadCmd = &cobra.Command{
	Use:   "download [url]",
	Short: "Download one URL and print the resulting file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := setup()
		if err != nil {
			return err
		}
		defer application.Shutdown()

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = application.Ctx.Config.DownloadDir
		}
		name, _ := cmd.Flags().GetString("name")
		exts, _ := cmd.Flags().GetStringSlice("ext")
		if len(exts) == 0 {
			exts = application.Ctx.Config.AllowedExtensions
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		// The first interrupt cancels cooperatively; a second one aborts.
		cancel := &atomic.Bool{}
		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sig)
		go func() {
			<-sig
			fmt.Fprintln(os.Stderr, "\ncancelling...")
			cancel.Store(true)
			<-sig
			stop()
		}()

		progress := newProgressPrinter()
		outcome, err := application.Ctx.Downloads.Download(ctx, &types.DownloadRequest{
			URL:               args[0],
			Dir:               dir,
			AllowedExtensions: exts,
			PreferredStem:     name,
			Cancel:            cancel,
			Progress:          progress.update,
		})
		progress.done()
		if err != nil {
			if errors.Is(err, types.ErrCancelled) {
				return fmt.Errorf("download cancelled")
			}
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		}
		size := "unknown size"
		if outcome.File.Size != nil {
			size = humanize.Bytes(uint64(*outcome.File.Size))
		}
		fmt.Printf("Saved %s (%s, %s)\n", outcome.File.Path, size, outcome.File.MIME)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the URL import API",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := setup()
		if err != nil {
			return err
		}
		defer application.Shutdown()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return application.Run(ctx)
	},
}

var gpuCmd = &cobra.Command{
	Use:   "gpu",
	Short: "Show GPU detection results",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := setup()
		if err != nil {
			return err
		}
		defer application.Shutdown()

		info := application.Ctx.GPU.Detect(cmd.Context())
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Device:\t%s\n", info.DeviceLabel)
		fmt.Fprintf(w, "Backend:\t%s\n", info.Backend)
		fmt.Fprintf(w, "GPU Available:\t%t\n", info.Available)
		if info.Vendor != "" {
			fmt.Fprintf(w, "Vendor:\t%s\n", info.Vendor)
			fmt.Fprintf(w, "Name:\t%s\n", info.Name)
		}
		if info.DriverVersion != "" {
			fmt.Fprintf(w, "Driver Version:\t%s\n", info.DriverVersion)
		}
		if info.Memory != "" {
			fmt.Fprintf(w, "Memory:\t%s\n", info.Memory)
		}
		return w.Flush()
	},
}

var extractorsCmd = &cobra.Command{
	Use:   "extractors",
	Short: "List site extractors in dispatch order",
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := setup()
		if err != nil {
			return err
		}
		defer application.Shutdown()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tNAME")
		for i, name := range application.ExtractorReg.Names() {
			fmt.Fprintf(w, "%d\t%s\n", i, name)
		}
		fmt.Fprintf(w, "-\tgeneric (yt-dlp)\n")
		return w.Flush()
	},
}

func init() {
	downloadCmd.Flags().String("dir", "", "Output directory (defaults to the configured download dir)")
	downloadCmd.Flags().String("name", "", "Preferred file name without extension")
	downloadCmd.Flags().StringSlice("ext", nil, "Preferred container extensions, e.g. mp4,webm (defaults to ALLOWED_EXTENSIONS)")
	downloadCmd.Flags().Bool("json", false, "Print the outcome as JSON")
}

// progressPrinter renders a single updating status line on stderr.
type progressPrinter struct {
	last    time.Time
	printed bool
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{}
}

func (p *progressPrinter) update(pr types.Progress) {
	if time.Since(p.last) < 200*time.Millisecond && pr.Status != types.ProgressFinished {
		return
	}
	p.last = time.Now()

	var b strings.Builder
	b.WriteString(humanize.Bytes(uint64(pr.DownloadedBytes)))
	if total := max(pr.TotalBytes, pr.TotalBytesEstimate); total > 0 {
		fmt.Fprintf(&b, " / %s", humanize.Bytes(uint64(total)))
	}
	if pct := pr.Percent(); pct >= 0 {
		fmt.Fprintf(&b, " (%.1f%%)", pct)
	}
	if pr.Speed > 0 {
		fmt.Fprintf(&b, " at %s/s", humanize.Bytes(uint64(pr.Speed)))
	}
	fmt.Fprintf(os.Stderr, "\r\033[K%s", b.String())
	p.printed = true
}

func (p *progressPrinter) done() {
	if p.printed {
		fmt.Fprintln(os.Stderr)
	}
}
