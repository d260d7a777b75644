package seestar

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgainstSchemaAccepts(t *testing.T) {
	schema := `{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}}}`
	err := validateAgainstSchema(schema, []byte(`{"ok":true}`))
	require.NoError(t, err)
}

func TestValidateAgainstSchemaRejects(t *testing.T) {
	schema := `{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}}}`
	err := validateAgainstSchema(schema, []byte(`{"ok":"nope"}`))
	assert.Error(t, err)
}

func TestValidateAgainstSchemaSkippedWhenEmpty(t *testing.T) {
	err := validateAgainstSchema("", []byte(`anything`))
	assert.NoError(t, err)
}

// compileSchema is hit concurrently by every SendCommand call validating a
// response; schemaCache must tolerate that without a concurrent map write.
func TestCompileSchemaConcurrentAccess(t *testing.T) {
	schema := `{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}}}`

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := validateAgainstSchema(schema, []byte(`{"ok":true}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestRawCommandFields(t *testing.T) {
	cmd := RawCommand{MethodName: "GetTime", ParamsData: map[string]any{"a": 1}}
	assert.Equal(t, "GetTime", cmd.Method())
	assert.Equal(t, "", cmd.ResponseSchema())
	assert.Equal(t, map[string]any{"a": 1}, cmd.Params())
}
