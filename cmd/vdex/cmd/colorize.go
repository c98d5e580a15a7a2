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
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/blacktop/vdex/internal/colors"
)

var (
	reDescriptor = regexp.MustCompile(`'[^']*'`)
	reIndex      = regexp.MustCompile(`^(\s*)(\[\d+\])`)
)

// colorizeReport copies a dependency report from r to w highlighting the dex file
// headings, the (un)resolved verdicts and the type descriptors.
func colorizeReport(w io.Writer, r io.Reader) error {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for s.Scan() {
		line := s.Text()
		switch {
		case strings.HasPrefix(line, "dex file #"), strings.HasPrefix(line, "-----"):
			line = colors.Section(line)
		default:
			line = reDescriptor.ReplaceAllStringFunc(line, func(m string) string {
				return colors.Descriptor(m)
			})
			line = strings.Replace(line, "unresolved", colors.Unresolved("unresolved"), 1)
			line = strings.Replace(line, " resolved", " "+colors.Resolved("resolved"), 1)
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return s.Err()
}

// colorizeInfo highlights the headings and list indexes of a vdex summary
func colorizeInfo(summary string) string {
	var sb strings.Builder
	for line := range strings.Lines(summary) {
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasSuffix(line, ":") && !strings.HasPrefix(line, " "):
			line = colors.Section(line)
		default:
			line = reIndex.ReplaceAllString(line, "${1}"+colors.Index("${2}"))
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
