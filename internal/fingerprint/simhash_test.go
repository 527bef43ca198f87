package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimHashEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, SimHash("").IsZero())
	require.True(t, SimHash("  ,.;  ").IsZero())
	require.Equal(t, "0000000000000000", SimHash("").String())
}

func TestSimHashSingleTokenIsTokenHash(t *testing.T) {
	t.Parallel()

	// md5("a") = 0cc175b9c0f1b6a8...
	require.Equal(t, Fingerprint(0x0cc175b9c0f1b6a8), SimHash("a"))
	require.Equal(t, SimHash("a"), SimHash("A a A"))
}

func TestSimHashSetSemantics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SimHash("alpha beta gamma"), SimHash("gamma beta alpha"))
	assert.Equal(t, SimHash("alpha beta"), SimHash("alpha alpha alpha beta"))
	assert.Equal(t, SimHash("Hello, World!"), SimHash("hello world"))
}

func TestSimHashSmallEditsMoveFewBits(t *testing.T) {
	t.Parallel()

	words := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("word%d", i))
	}
	base := SimHash(strings.Join(words, " "))

	swapped := append([]string(nil), words...)
	swapped[3], swapped[150] = swapped[150], swapped[3]
	assert.Zero(t, Distance(base, SimHash(strings.Join(swapped, " "))))

	extended := append(append([]string(nil), words...), "extra")
	assert.LessOrEqual(t, Distance(base, SimHash(strings.Join(extended, " "))), 10)
}

func TestDistance(t *testing.T) {
	t.Parallel()

	a := SimHash("the quick brown fox")
	b := SimHash("jumps over the lazy dog")
	assert.Zero(t, Distance(a, a))
	assert.Equal(t, Distance(a, b), Distance(b, a))
	assert.Equal(t, 64, Distance(0, Fingerprint(^uint64(0))))
	assert.True(t, Near(a, a, 0))
	assert.True(t, Near(0b1011, 0b0011, 1))
	assert.False(t, Near(0b1011, 0b0000, 2))
}

func TestDistanceHex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, DistanceHex("00000000deadbeef", "00000000deadbeef"))
	assert.Equal(t, 1, DistanceHex("0000000000000001", "0000000000000000"))
	assert.Equal(t, Bits, DistanceHex("not-hex", "0000000000000000"))
	assert.Equal(t, Bits, DistanceHex("", "0000000000000000"))
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	fp := Fingerprint(0xdeadbeef)
	require.Equal(t, "00000000deadbeef", fp.String())
	got, err := Parse(fp.String())
	require.NoError(t, err)
	require.Equal(t, fp, got)

	_, err = Parse("12345678901234567")
	require.Error(t, err)
}
