package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputs(t *testing.T) {
	csv := "ROC #,Contractor Name,City,Phone,Extra\n" +
		"123456, Acme Plumbing ,Phoenix,602-555-0100,ignored\n" +
		",,,,\n" +
		"98765,Best Roofing,,,\n"

	inputs, err := ReadInputs(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, inputs, 2)

	assert.Equal(t, "123456", inputs[0].RegistryNumber)
	assert.Equal(t, "Acme Plumbing", inputs[0].Name)
	assert.Equal(t, "Phoenix", inputs[0].City)
	assert.Equal(t, "602-555-0100", inputs[0].Phone)
	assert.Equal(t, "98765", inputs[1].RegistryNumber)
	assert.Empty(t, inputs[1].City)
}

func TestReadInputs_CanonicalHeaders(t *testing.T) {
	csv := "registry_number,name,website\n555,Cactus Electric,https://cactus.example\n"

	inputs, err := ReadInputs(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "https://cactus.example", inputs[0].Website)
}

func TestReadInputs_DuplicateAliasKeepsFirst(t *testing.T) {
	csv := "roc,license,name\n111,222,Dup Co\n"

	inputs, err := ReadInputs(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "111", inputs[0].RegistryNumber)
}

func TestReadInputs_Empty(t *testing.T) {
	inputs, err := ReadInputs(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, inputs)
}
