package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"trims", "  hi there \n", "hi there"},
		{"keeps newlines and tabs", "line one\n\tline two", "line one\n\tline two"},
		{"drops control characters", "be\x00ep\x07", "beep"},
		{"only control characters", "\x01\x02", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MessageText(tt.input))
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "notes.pdf", "notes.pdf"},
		{"unix traversal", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\bob\cat.png`, "cat.png"},
		{"control characters", "re\x00port.txt", "report.txt"},
		{"dot dot", "..", ""},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.input))
		})
	}
}
