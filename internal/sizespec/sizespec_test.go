package sizespec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		spec string
		want int64
	}{
		{spec: "2MB", want: 2_000_000},
		{spec: "2MiB", want: 2 * 1024 * 1024},
		{spec: "512kB", want: 512_000},
		{spec: "1048576", want: 1_048_576},
		{spec: "0", want: 0},
		{spec: " 10 KB ", want: 10_000},
		{spec: "1.5MB", want: 1_500_000},
	}

	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			got, err := Parse(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"", "   ", "MB", "two megabytes", "-5MB", "10XB"} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, spec, perr.Spec)
			assert.ErrorIs(t, err, ErrInvalidSize)
		})
	}
}
