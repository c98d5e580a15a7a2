/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/vdex/internal/colors"
	vdexcmd "github.com/blacktop/vdex/internal/commands/vdex"
	"github.com/blacktop/vdex/internal/config"
	"github.com/caarlos0/ctrlc"
	perrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Directory to extract the dex file(s) to")
	extractCmd.MarkFlagDirname("output")
	extractCmd.Flags().Bool("no-unquicken", false, "Do not restore quickened bytecode (only repair checksums)")
	extractCmd.Flags().Bool("ignore-crc", false, "Repair the checksum of unquickened dex files instead of failing")
	extractCmd.Flags().BoolP("force", "f", false, "Overwrite existing extracted file(s)")
	extractCmd.Flags().BoolP("deps", "d", false, "Write the verifier dependency report next to the dex file(s)")
	extractCmd.Flags().IntP("workers", "w", 0, "Number of vdex files to process in parallel (default: number of CPUs)")
	extractCmd.Flags().Bool("progress", true, "Show progress bar when extracting many files")
	viper.BindPFlag("vdex.extract.output", extractCmd.Flags().Lookup("output"))
	viper.BindPFlag("vdex.extract.no-unquicken", extractCmd.Flags().Lookup("no-unquicken"))
	viper.BindPFlag("vdex.extract.ignore-crc", extractCmd.Flags().Lookup("ignore-crc"))
	viper.BindPFlag("vdex.extract.force", extractCmd.Flags().Lookup("force"))
	viper.BindPFlag("vdex.extract.deps", extractCmd.Flags().Lookup("deps"))
	viper.BindPFlag("vdex.extract.workers", extractCmd.Flags().Lookup("workers"))
	viper.BindPFlag("vdex.extract.progress", extractCmd.Flags().Lookup("progress"))
	extractCmd.MarkFlagsMutuallyExclusive("no-unquicken", "ignore-crc")
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:     "extract <VDEX|DIR>...",
	Aliases: []string{"e"},
	Short:   "Extract (and unquicken) the DEX files embedded in VDEX files",
	Example: heredoc.Doc(`
		# Extract and unquicken the dex files of a single vdex
		❯ vdex extract boot.vdex -o /tmp/dex

		# Extract every vdex under a folder and write the dependency reports
		❯ vdex extract --deps -o /tmp/dex system/framework/arm64

		# Only repair checksums (keep quickened bytecode)
		❯ vdex extract --no-unquicken services.vdex`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		conf, err := config.Load()
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"output":    conf.Vdex.Extract.Output,
			"unquicken": conf.Unquicken(),
			"workers":   conf.Vdex.Extract.Workers,
		}).Debug("Extracting")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var results []vdexcmd.Result
		if err := ctrlc.Default.Run(ctx, func() error {
			var progress io.Writer
			if viper.GetBool("vdex.extract.progress") && !viper.GetBool("verbose") && term.IsTerminal(int(os.Stderr.Fd())) {
				progress = os.Stderr
			}
			var err error
			results, err = vdexcmd.Run(ctx, args, conf, progress)
			return err
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			return perrors.Wrapf(err, "failed to extract vdex file(s)")
		}

		var total int
		for _, res := range results {
			total += res.DexFiles
			if res.DepsFile != "" {
				log.Infof("Wrote dependency report to %s", colors.Bold().Sprint(res.DepsFile))
			}
		}
		log.Infof("Extracted %s dex file(s) from %d vdex file(s) into %s",
			colors.BoldHiGreen().Sprint(total), len(results), conf.Vdex.Extract.Output)

		return nil
	},
}
