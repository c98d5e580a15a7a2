package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

const report = `------- Vdex Deps Info -------
dex file #0
 class dependencies: number_of_classes=2
  0000: 'LA;' is expected to be resolved with access flags '1'
  0001: 'LB;' is expected to be unresolved
----- EOF Vdex Deps Info -----
`

func TestColorizeReportPlain(t *testing.T) {
	orig := color.NoColor
	t.Cleanup(func() { color.NoColor = orig })
	color.NoColor = true

	var out bytes.Buffer
	require.NoError(t, colorizeReport(&out, strings.NewReader(report)))
	require.Equal(t, report, out.String())
}

func TestColorizeReport(t *testing.T) {
	orig := color.NoColor
	t.Cleanup(func() { color.NoColor = orig })
	color.NoColor = false

	var out bytes.Buffer
	require.NoError(t, colorizeReport(&out, strings.NewReader(report)))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	for i, line := range lines {
		if i == 2 {
			require.NotContains(t, line, "\x1b[")
			continue
		}
		require.Contains(t, line, "\x1b[")
	}
	require.Equal(t, report, stripANSI(out.String()))
}

func TestColorizeInfo(t *testing.T) {
	orig := color.NoColor
	t.Cleanup(func() { color.NoColor = orig })

	summary := "Dex Checksums:\n  [0] 0x12345678\n"

	color.NoColor = true
	require.Equal(t, summary, colorizeInfo(summary))

	color.NoColor = false
	got := colorizeInfo(summary)
	require.Equal(t, summary, stripANSI(got))
	require.NotEqual(t, summary, got)
}

func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b {
			for i < len(s) && s[i] != 'm' {
				i++
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
