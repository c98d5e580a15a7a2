package colors

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestInit(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	on, off := true, false
	tests := []struct {
		name  string
		start bool
		force *bool
		want  bool
	}{
		{"force on", true, &on, true},
		{"force off", false, &off, false},
		{"nil keeps enabled", false, nil, true},
		{"nil keeps disabled", true, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			color.NoColor = tt.start
			Init(tt.force)
			if Enabled() != tt.want {
				t.Errorf("Enabled() = %v, want %v", Enabled(), tt.want)
			}
		})
	}
}

func TestStylesRespectNoColor(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = true
	if got := BoldHiGreen().Sprint("ok"); got != "ok" {
		t.Errorf("NoColor output = %q", got)
	}

	color.NoColor = false
	if got := BoldHiGreen().Sprint("ok"); !strings.Contains(got, "\x1b[") || !strings.Contains(got, "ok") {
		t.Errorf("colored output = %q", got)
	}
}
