package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocation(t *testing.T) {
	tests := []struct {
		base, prefix       string
		wantCfg, wantTensr string
	}{
		{"out", "", "out/model-config.json", "out/model.tensors"},
		{"out/", "llm", "out/llm-config.json", "out/llm.tensors"},
		{"out///", "x", "out/x-config.json", "out/x.tensors"},
		{"/", "", "/model-config.json", "/model.tensors"},
		{"s3://bucket/models/", "", "s3://bucket/models/model-config.json", "s3://bucket/models/model.tensors"},
		{"mem://a", "p", "mem://a/p-config.json", "mem://a/p.tensors"},
	}
	for _, tt := range tests {
		loc := NewLocation(tt.base, tt.prefix)
		assert.Equal(t, tt.wantCfg, loc.ConfigPath(), tt.base)
		assert.Equal(t, tt.wantTensr, loc.TensorPath(), tt.base)
	}

	assert.Equal(t, "model.tensors", Location{}.TensorPath())
}

func TestParseLocation(t *testing.T) {
	tests := map[string]Location{
		"dir/model":            {Base: "dir", Prefix: "model"},
		"a/b/llm/":             {Base: "a/b", Prefix: "llm"},
		"model":                {Base: ".", Prefix: "model"},
		"/model":               {Base: "/", Prefix: "model"},
		"s3://bucket/models/m": {Base: "s3://bucket/models", Prefix: "m"},
		"s3://bucket":          {Base: "s3://bucket", Prefix: "model"},
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLocation(in), in)
	}
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "1.0 KiB", HumanBytes(1024))
	assert.Equal(t, "0 B/s", HumanRate(0))
	assert.Equal(t, "2.0 MiB/s", HumanRate(2*1024*1024))
}
