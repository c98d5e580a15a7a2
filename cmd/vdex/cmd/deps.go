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
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/apex/log"
	"github.com/blacktop/vdex/internal/colors"
	"github.com/blacktop/vdex/pkg/vdex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(depsCmd)

	depsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	depsCmd.Flags().BoolP("yaml", "y", false, "Output as YAML")
	viper.BindPFlag("vdex.deps.json", depsCmd.Flags().Lookup("json"))
	viper.BindPFlag("vdex.deps.yaml", depsCmd.Flags().Lookup("yaml"))
	depsCmd.MarkFlagsMutuallyExclusive("json", "yaml")
}

// depsCmd represents the deps command
var depsCmd = &cobra.Command{
	Use:     "deps <VDEX>",
	Aliases: []string{"d"},
	Short:   "Dump the verifier dependencies of a VDEX file",
	Example: heredoc.Doc(`
		# Print the verifier dependency report
		❯ vdex deps boot.vdex

		# Print the resolved dependencies as JSON
		❯ vdex deps --json services.vdex | jq '.[0].classes'

		# Print the resolved dependencies as YAML
		❯ vdex deps --yaml services.vdex`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		f, err := vdex.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "failed to open %s", args[0])
		}
		defer f.Close()

		if viper.GetBool("vdex.deps.json") || viper.GetBool("vdex.deps.yaml") {
			deps, err := vdex.ResolveDependencies(f)
			if err != nil {
				return errors.Wrapf(err, "failed to resolve dependencies of %s", args[0])
			}
			if deps == nil {
				deps = []*vdex.ResolvedDependencies{}
			}
			var out bytes.Buffer
			lexer := "json"
			if viper.GetBool("vdex.deps.yaml") {
				lexer = "yaml"
				enc := yaml.NewEncoder(&out)
				enc.SetIndent(2)
				if err := enc.Encode(deps); err != nil {
					return errors.Wrap(err, "failed to encode dependencies as YAML")
				}
				enc.Close()
			} else {
				enc := json.NewEncoder(&out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(deps); err != nil {
					return errors.Wrap(err, "failed to encode dependencies as JSON")
				}
			}
			if colors.Enabled() {
				return quick.Highlight(os.Stdout, out.String(), lexer, "terminal256", "nord")
			}
			_, err = os.Stdout.Write(out.Bytes())
			return err
		}

		var buf bytes.Buffer
		if err := vdex.RenderDependencyReport(&buf, f); err != nil {
			return errors.Wrapf(err, "failed to render dependencies of %s", args[0])
		}
		if buf.Len() == 0 {
			return nil
		}

		log.WithField("dex_files", f.NumberOfDexFiles).Debug("Rendering dependency report")

		if colors.Enabled() {
			return colorizeReport(os.Stdout, &buf)
		}
		_, err = fmt.Print(buf.String())
		return err
	},
}
