package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Version
		wantErr string
	}{
		{
			name:  "three components",
			input: "1.2.3",
			want:  Version{1, 2, 3},
		},
		{
			name:  "single component",
			input: "7",
			want:  Version{7},
		},
		{
			name:  "zero components allowed",
			input: "0.9.0",
			want:  Version{0, 9, 0},
		},
		{
			name:  "four components",
			input: "2.0.0.1",
			want:  Version{2, 0, 0, 1},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: "empty version string",
		},
		{
			name:    "empty component",
			input:   "1..3",
			wantErr: "empty component",
		},
		{
			name:    "trailing dot",
			input:   "1.2.",
			wantErr: "empty component",
		},
		{
			name:    "leading zero",
			input:   "1.02.3",
			wantErr: "leading zero",
		},
		{
			name:    "negative component",
			input:   "1.-2.3",
			wantErr: "not a non-negative integer",
		},
		{
			name:    "non-numeric component",
			input:   "1.2.3rc1",
			wantErr: "not a non-negative integer",
		},
		{
			name:    "whitespace",
			input:   "1. 2.3",
			wantErr: "not a non-negative integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1.2.3", "10.20.30", "2.0.0.1"} {
		v, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, v.String())
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.2.3", "1.2.3", 0},
		{"less in last component", "1.2.3", "1.2.4", -1},
		{"greater in first component", "2.0.0", "1.9.9", 1},
		{"numeric not lexicographic", "1.10.0", "1.9.0", 1},
		{"proper prefix orders first", "1.2", "1.2.0", -1},
		{"longer greater", "1.2.0.1", "1.2.0", 1},
		{"single vs multi", "2", "1.9.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustParse(tt.a)
			b := MustParse(tt.b)
			assert.Equal(t, tt.want, a.Compare(b))
			assert.Equal(t, -tt.want, b.Compare(a))
		})
	}
}

func TestIncrement(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"patch bump", "1.2.4", "1.2.5"},
		{"carry is not performed", "1.2.9", "1.2.10"},
		{"single component", "7", "8"},
		{"only last component changes", "2.0.0.1", "2.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := MustParse(tt.input)
			got := v.Increment()
			assert.Equal(t, tt.want, got.String())
			// Receiver must be untouched.
			assert.Equal(t, tt.input, v.String())
		})
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("not-a-version") })
}
