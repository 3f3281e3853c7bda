package mirror

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mirrorctl/mirrorrank/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolePresenter(t *testing.T) {
	t.Parallel()

	candidates := []pool.MirrorRecord{
		record("Germany", "a/", "https"),
		record("France", "b/", "http"),
		record("Japan", "c/", "https"),
	}

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"empty selects all", "\n", []string{"a/", "b/", "c/"}, false},
		{"eof selects all", "", []string{"a/", "b/", "c/"}, false},
		{"entry order", "3,1\n", []string{"c/", "a/"}, false},
		{"spaces and duplicates", "2 2, 1\n", []string{"b/", "a/"}, false},
		{"out of range", "4\n", nil, true},
		{"not a number", "one\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			p := &ConsolePresenter{In: strings.NewReader(tt.input), Out: &out}
			selected, err := p.Present(candidates)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, urls(selected))
			assert.Contains(t, out.String(), "  2) France")
		})
	}
}

func TestConsolePresenterEmpty(t *testing.T) {
	t.Parallel()

	p := &ConsolePresenter{In: strings.NewReader("1\n"), Out: &bytes.Buffer{}}
	_, err := p.Present(nil)
	assert.ErrorIs(t, err, ErrNoSelection)
}
