package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsValidate(t *testing.T) {
	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*WdtOptions)
	}{
		{"num_ports", func(o *WdtOptions) { o.NumPorts = 0 }},
		{"block_size", func(o *WdtOptions) { o.BlockSize = -1 }},
		{"buffer_size", func(o *WdtOptions) { o.BufferSize = 0 }},
		{"workers", func(o *WdtOptions) { o.Workers = 0 }},
		{"retries", func(o *WdtOptions) { o.Retries = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestValidateRejectsInvertedThrottleBounds(t *testing.T) {
	opts := DefaultOptions()
	opts.AvgMBytesPerSec = 100
	opts.PeakMBytesPerSec = 50
	assert.Error(t, opts.Validate())
}
