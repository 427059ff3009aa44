package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionMetadataValueAndScan(t *testing.T) {
	meta := OptionMetadata{Type: "SIZE", Label: "M", Position: 2}

	val, err := meta.Value()
	require.NoError(t, err)

	var fromBytes OptionMetadata
	require.NoError(t, fromBytes.Scan(val))
	assert.Equal(t, meta, fromBytes)

	var fromString OptionMetadata
	require.NoError(t, fromString.Scan(`{"type":"COLOR","value":"red","position":0}`))
	assert.Equal(t, OptionMetadata{Type: "COLOR", Label: "red"}, fromString)
}

func TestOptionMetadataScanNilAndUnsupported(t *testing.T) {
	meta := OptionMetadata{Type: "SIZE"}
	require.NoError(t, meta.Scan(nil))
	assert.Equal(t, OptionMetadata{}, meta)

	assert.Error(t, meta.Scan(42))
}
