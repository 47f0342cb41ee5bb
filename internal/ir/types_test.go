package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatus(t *testing.T) {
	assert.Equal(t, StatusPending, Message{Kind: KindQuery}.Status())
	assert.Equal(t, StatusComplete, Message{Kind: KindResponse}.Status())
	assert.Equal(t, StatusExpired, Message{Kind: KindTimeout}.Status())
	assert.Equal(t, StatusNotFound, Message{}.Status())
}

func TestKindTerminal(t *testing.T) {
	assert.False(t, KindQuery.Terminal())
	assert.True(t, KindResponse.Terminal())
	assert.True(t, KindTimeout.Terminal())
}

func TestParseStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusNotFound, StatusPending, StatusComplete, StatusExpired} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("done")
	assert.Error(t, err)
}

func TestParseSelector(t *testing.T) {
	sel, err := ParseSelector("0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, Selector{0xde, 0xad, 0xbe, 0xef}, sel)
	assert.Equal(t, "0xdeadbeef", sel.String())

	sel, err = ParseSelector("01020304")
	require.NoError(t, err)
	assert.Equal(t, Selector{1, 2, 3, 4}, sel)

	_, err = ParseSelector("0x0102")
	assert.Error(t, err)
	_, err = ParseSelector("zz")
	assert.Error(t, err)
}

func TestParseEncoding(t *testing.T) {
	e, err := ParseEncoding("native")
	require.NoError(t, err)
	assert.Equal(t, EncodingNative, e)

	e, err = ParseEncoding("ABI")
	require.NoError(t, err)
	assert.Equal(t, EncodingCallingConvention, e)
	assert.Equal(t, "abi", e.String())

	_, err = ParseEncoding("xml")
	assert.Error(t, err)
}
