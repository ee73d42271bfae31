package pci_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smallorange/bolt/internal/pci"
)

func TestNormaliseAddress(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"0000:00:00.0": "0000:00:00.0",
		"1000:00:00.0": "1000:00:00.0",
		"00:00.0":      "0000:00:00.0",
		"0000:AB:00.0": "0000:ab:00.0",
		"1000:AB:00.0": "1000:ab:00.0",
		"00:AB.0":      "0000:00:ab.0",
	}

	for k, v := range cases {
		res := pci.NormaliseAddress(k)
		assert.Equal(t, v, res)
	}
}

func TestParsePCIID(t *testing.T) {
	v, err := pci.ParsePCIID("0x157d")
	assert.NoError(t, err)
	assert.EqualValues(t, 0x157d, v)

	_, err = pci.ParsePCIID("not-hex")
	assert.Error(t, err)
}
