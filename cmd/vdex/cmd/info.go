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
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/vdex/internal/colors"
	"github.com/blacktop/vdex/internal/utils"
	"github.com/blacktop/vdex/pkg/dex"
	"github.com/blacktop/vdex/pkg/vdex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolP("dex", "x", false, "Show the header of each embedded dex file")
	infoCmd.Flags().Bool("dump", false, "Hexdump the vdex header and checksum table")
	viper.BindPFlag("vdex.info.dex", infoCmd.Flags().Lookup("dex"))
	viper.BindPFlag("vdex.info.dump", infoCmd.Flags().Lookup("dump"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:     "info <VDEX>",
	Aliases: []string{"i"},
	Short:   "Display VDEX header, sections and dex checksums",
	Example: heredoc.Doc(`
		# Show the vdex summary
		❯ vdex info boot.vdex

		# Also show every embedded dex header
		❯ vdex info --dex boot.vdex`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		f, err := vdex.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}
		defer f.Close()

		fmt.Print(colorizeInfo(f.String()))

		if viper.GetBool("vdex.info.dump") {
			end := vdex.HeaderSize + 4*int(f.NumberOfDexFiles)
			fmt.Println()
			fmt.Print(utils.HexDump(f.Bytes()[:end], 0))
		}

		if !viper.GetBool("vdex.info.dex") {
			return nil
		}

		for i, data := range f.DexFiles() {
			df, err := dex.Parse(data)
			if err != nil {
				log.WithError(err).Errorf("dex file #%d is invalid", i)
				continue
			}
			fmt.Printf("\n%s\n", colors.Section(fmt.Sprintf("dex file #%d:", i)))
			fmt.Print(colorizeInfo(df.Header.String()))
			if _, computed, ok := df.VerifyChecksum(); !ok {
				utils.Indent(log.Warn, 2)(fmt.Sprintf("checksum mismatch (computed %#08x)", computed))
			}
		}

		return nil
	},
}
