package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "kgraph/backend/pkg/errors"
)

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format string
		want   string
	}{
		{"plain default", "  went to a rodeo \n", "", "went to a rodeo"},
		{"plain explicit", "rodeo", FormatText, "rodeo"},
		{
			name:   "html body text",
			input:  "<html><head><title>Ignored</title></head><body><h1>Rodeo</h1><p>Bull   riding\nin <em>Cheyenne</em></p></body></html>",
			format: FormatHTML,
			want:   "Rodeo Bull riding in Cheyenne",
		},
		{
			name:   "html drops scripts and styles",
			input:  "<div>horses<style>.x{}</style><script>var a=1</script><noscript>enable js</noscript></div>",
			format: FormatHTML,
			want:   "horses",
		},
		{"html fragment", "<p>saddles</p>", FormatHTML, "saddles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Preprocess(tt.input, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreprocess_UnknownFormat(t *testing.T) {
	_, err := Preprocess("x", "markdown")
	assert.True(t, kgerrors.IsKind(err, kgerrors.KindInvalidInput))
}
