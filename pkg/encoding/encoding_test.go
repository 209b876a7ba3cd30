package encoding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/chunksync/pkg/encoding"
)

type point struct {
	X int    `json:"x" cbor:"1,keyasint"`
	Y string `json:"y" cbor:"2,keyasint"`
}

func TestGet(t *testing.T) {
	c, err := encoding.Get("")
	require.NoError(t, err)
	assert.Equal(t, encoding.CBOR, c.Name())

	c, err = encoding.Get("JSON")
	require.NoError(t, err)
	assert.Equal(t, encoding.JSON, c.Name())

	_, err = encoding.Get("protobuf")
	assert.Error(t, err)
}

func TestCodecs(t *testing.T) {
	for _, name := range encoding.Names() {
		t.Run(name, func(t *testing.T) {
			c, err := encoding.Get(name)
			require.NoError(t, err)

			buf, err := c.Marshal(&point{X: 7, Y: "cell"})
			require.NoError(t, err)

			var got point
			require.NoError(t, c.Unmarshal(buf, &got))
			assert.Equal(t, point{X: 7, Y: "cell"}, got)
		})
	}
}

type upper struct{ encoding.Codec }

func (upper) Name() string { return "Upper" }

func TestRegister(t *testing.T) {
	base, err := encoding.Get(encoding.JSON)
	require.NoError(t, err)

	encoding.Register(upper{base})

	c, err := encoding.Get("upper")
	require.NoError(t, err)
	assert.Equal(t, "Upper", c.Name())
	assert.Contains(t, encoding.Names(), "upper")
}
