package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/atomikpanda/provisr/internal/ageutil"
	"github.com/atomikpanda/provisr/internal/audit"
	"github.com/atomikpanda/provisr/internal/color"
	"github.com/atomikpanda/provisr/internal/engine"
	"github.com/atomikpanda/provisr/internal/facts"
	"github.com/atomikpanda/provisr/internal/manifest"
)

var (
	manifestFile string
	verbose      bool
)

func main() {
	color.Init()
	root := buildRoot()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "provisr",
		Short: "Converge a machine toward a declared desired state",
		Long: `provisr provisions a new machine from a static manifest: SSH identity,
SSH host aliases, and a conditional package/service set. Every run is
idempotent — steps already satisfied are skipped, existing SSH config
entries and key material are never touched.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&manifestFile, "manifest", "m", "", "path to a manifest file (default: embedded manifest)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show skipped targets and extra output")

	root.AddCommand(
		convergeCmd(),
		factsCmd(),
		manifestCmd(),
		logCmd(),
		encryptCmd(),
		decryptCmd(),
	)

	return root
}

// loadManifest returns the manifest from --manifest, or the embedded default.
func loadManifest() (manifest.Manifest, error) {
	if manifestFile == "" {
		return manifest.Default()
	}
	m, err := manifest.Load(manifestFile, ageutil.FromEnv())
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("load manifest %q: %w", manifestFile, err)
	}
	return m, nil
}

// --- converge ------------------------------------------------------------------

func convergeCmd() *cobra.Command {
	var (
		dryRun       bool
		skipDevTools bool
		assumeYes    bool
		jsonOut      bool
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Probe the machine and converge it toward the manifest",
		Example: `  provisr converge
  provisr converge --dry-run
  provisr converge --manifest fleet.yaml --skip-dev-tools
  provisr converge --json > report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			m, err := loadManifest()
			if err != nil {
				return err
			}

			prober := &facts.Prober{}
			f := prober.Probe(ctx)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", color.Dim(fmt.Sprintf(
					"machine: os=%s ram=%.2fGB pi=%s desktop=%v", f.OS, f.RAMGB, f.Pi, f.Desktop)))
			}

			if !dryRun && !assumeYes && stdinIsTerminal() {
				proceed := true
				form := huh.NewForm(huh.NewGroup(
					huh.NewConfirm().
						Title("Converge this machine now?").
						Description("Actions may install packages and write to ~/.ssh.").
						Value(&proceed),
				))
				if err := form.Run(); err != nil {
					return err
				}
				if !proceed {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}

			e, err := engine.New(m, f, dryRun)
			if err != nil {
				return err
			}
			e.SkipDevTools = skipDevTools
			e.Verbose = verbose
			e.ActionTimeout = timeout
			e.Out = cmd.OutOrStdout()

			rep := e.Converge(ctx)

			if jsonOut {
				if err := rep.WriteJSON(cmd.OutOrStdout()); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			} else {
				rep.Render(cmd.OutOrStdout())
			}

			if !dryRun && rep.HasRequiredFailure() {
				return fmt.Errorf("%d required action(s) failed", rep.RequiredFailures())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "probe and report without executing actions")
	cmd.Flags().BoolVar(&skipDevTools, "skip-dev-tools", false, "disable the dev-tools package set regardless of RAM")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the run report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "per-action timeout (0 disables)")
	return cmd
}

// stdinIsTerminal reports whether stdin is an interactive terminal; the
// confirmation prompt is skipped in pipelines and CI.
func stdinIsTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// --- facts ---------------------------------------------------------------------

func factsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "facts",
		Short: "Print the probed machine facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			prober := &facts.Prober{}
			f := prober.Probe(context.Background())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "os:       %s\n", f.OS)
			fmt.Fprintf(out, "hostname: %s\n", f.Hostname)
			fmt.Fprintf(out, "ram_gb:   %.2f\n", f.RAMGB)
			fmt.Fprintf(out, "pi_model: %s\n", f.Pi)
			fmt.Fprintf(out, "desktop:  %v\n", f.Desktop)
			return nil
		},
	}
}

// --- manifest ------------------------------------------------------------------

func manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the effective manifest (embedded or loaded)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadManifest()
			if err != nil {
				return err
			}
			data, err := m.Render()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// --- log -----------------------------------------------------------------------

func logCmd() *cobra.Command {
	var targetFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show past action outcomes",
		Example: `  provisr log
  provisr log --target "package docker"
  provisr log --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := audit.Read(targetFilter, limit)
			if err != nil {
				return fmt.Errorf("read audit log: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "(no log entries)")
				return nil
			}

			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-20s  %-9s  %-26s  %s",
				"TIME", "COMMAND", "STATUS", "TARGET")))
			for _, e := range entries {
				ts := e.Time.Local().Format(time.DateTime)
				status := fmt.Sprintf("%-26s", e.Status)
				switch e.Status {
				case "applied":
					status = color.BoldGreen(status)
				case "failed":
					status = color.BoldRed(status)
				default:
					status = color.Dim(status)
				}
				line := fmt.Sprintf("%-20s  %-9s  %s  %s", ts, e.Command, status, e.Target)
				if e.Detail != "" {
					line += color.Dim("  (" + e.Detail + ")")
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "\nlog: %s\n", audit.LogPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&targetFilter, "target", "", "filter log by target name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show")
	return cmd
}

// --- encrypt / decrypt -----------------------------------------------------------

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a manifest with the configured age key (writes <file>.age)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ageutil.FromEnv()
			if key == nil {
				return fmt.Errorf("no age key configured; set PROVISR_AGE_IDENTITY or PROVISR_AGE_PASSPHRASE")
			}
			src := args[0]
			dst := ageutil.EncryptedPath(src)
			fmt.Fprintf(cmd.OutOrStdout(), "encrypting %s -> %s\n", src, dst)
			return key.EncryptFile(src, dst)
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file.age>",
		Short: "Decrypt an age-encrypted manifest (writes without the .age extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ageutil.FromEnv()
			if key == nil {
				return fmt.Errorf("no age key configured; set PROVISR_AGE_IDENTITY or PROVISR_AGE_PASSPHRASE")
			}
			src := args[0]
			dst := src
			if len(dst) > 4 && dst[len(dst)-4:] == ".age" {
				dst = dst[:len(dst)-4]
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decrypting %s -> %s\n", src, dst)
			return key.DecryptFile(src, dst)
		},
	}
}
