package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand_Valid(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(harnessScenarios, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	out, err := execute(t, "", append([]string{"validate"}, files...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "scenario(s) valid")
}

func TestValidateCommand_SchemaViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, `
name: bad
description: d
peers: [a]
steps:
  - action: teleport
    peer: a
assertions:
  - type: converged
`)

	out, err := execute(t, "", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, path+": ")
}

func TestValidateCommand_UnknownPeer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.yaml")
	writeFile(t, path, `
name: peer
description: d
peers: [a]
steps:
  - action: undo
    peer: z
assertions:
  - type: converged
`)

	out, err := execute(t, "", "validate", path, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Contains(t, resp.Data.Errors[0].Message, `unknown peer "z"`)
	assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "", "validate", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestValidateFile(t *testing.T) {
	errs := validateFile("f.yaml", []byte(""))
	require.Len(t, errs, 1)
	assert.Equal(t, "f.yaml", errs[0].File)
	assert.Equal(t, "scenario is empty", errs[0].Message)
}
