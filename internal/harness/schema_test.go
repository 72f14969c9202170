package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSchema_Fixtures(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)

	for _, path := range files {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, CheckSchema(data), path)
	}
}

func TestCheckSchema_Violations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "missing peers",
			doc: `
name: t
description: d
steps: []
assertions: [{type: converged}]
`,
		},
		{
			name: "empty peers",
			doc: `
name: t
description: d
peers: []
steps: []
assertions: [{type: converged}]
`,
		},
		{
			name: "bad action",
			doc: `
name: t
description: d
peers: [a]
steps: [{action: teleport, peer: a}]
assertions: [{type: converged}]
`,
		},
		{
			name: "move without parent",
			doc: `
name: t
description: d
peers: [a]
steps: [{action: move, peer: a, child: x}]
assertions: [{type: converged}]
`,
		},
		{
			name: "float value",
			doc: `
name: t
description: d
peers: [a]
steps: [{action: set, peer: a, id: x, key: root, value: 1.5}]
assertions: [{type: converged}]
`,
		},
		{
			name: "bad order",
			doc: `
name: t
description: d
peers: [a]
steps: [{action: sync, order: sideways}]
assertions: [{type: converged}]
`,
		},
		{
			name: "bad orphan policy",
			doc: `
name: t
description: d
peers: [a]
orphans: adopt
steps: []
assertions: [{type: converged}]
`,
		},
		{
			name: "unknown top-level field",
			doc: `
name: t
description: d
peers: [a]
steps: []
assertions: [{type: converged}]
flow_token: x
`,
		},
		{
			name: "no assertions",
			doc: `
name: t
description: d
peers: [a]
steps: []
assertions: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := CheckSchema([]byte(tt.doc))
			require.NotEmpty(t, errs)
			assert.NotEmpty(t, errs[0].Error())
		})
	}
}

func TestCheckSchema_NotYAML(t *testing.T) {
	errs := CheckSchema([]byte("name: [unclosed"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "failed to parse YAML")

	errs = CheckSchema([]byte(""))
	require.Len(t, errs, 1)
	assert.Equal(t, "scenario is empty", errs[0].Message)
}

func TestSchemaError_Error(t *testing.T) {
	assert.Equal(t, "peers: too short", SchemaError{Path: "peers", Message: "too short"}.Error())
	assert.Equal(t, "bad", SchemaError{Message: "bad"}.Error())
}
