package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	a := []byte(`{"b": 1, "a": {"z": true, "y": null}, "c": [1, {"k2": 2, "k1": 1}]}`)
	b := []byte(`{
		"c": [1, {"k1": 1, "k2": 2}],
		"a": {"y": null, "z": true},
		"b": 1
	}`)

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1,"c":[1,{"k1":1,"k2":2}]}`, string(ca))
}

func TestCanonicalizePreservesNumberLiterals(t *testing.T) {
	out, err := Canonicalize([]byte(`{"big": 9007199254740993, "dec": 0.1000}`))
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993,"dec":0.1000}`, string(out))
}

func TestCanonicalizeRejectsInvalidJSON(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"order_id": "o_123", "total": 4200}`)

	sig, err := Sign(payload, "s3cret")
	require.NoError(t, err)
	require.Len(t, sig, 64)

	assert.True(t, Verify(sig, payload, "s3cret"))

	// reformatted payload verifies against the same signature
	reordered := []byte(`{"total":4200,"order_id":"o_123"}`)
	assert.True(t, Verify(sig, reordered, "s3cret"))
}

func TestVerifyRejectsMutations(t *testing.T) {
	payload := []byte(`{"order_id": "o_123"}`)
	sig, err := Sign(payload, "s3cret")
	require.NoError(t, err)

	// flip one hex digit of the signature
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	assert.False(t, Verify(string(flipped), payload, "s3cret"))

	assert.False(t, Verify(sig, []byte(`{"order_id": "o_124"}`), "s3cret"))
	assert.False(t, Verify(sig, payload, "other-secret"))
	assert.False(t, Verify(sig[:10], payload, "s3cret"))
	assert.False(t, Verify("", payload, "s3cret"))
}

func TestVerifyCaseInsensitiveSignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig, err := Sign(payload, "k")
	require.NoError(t, err)

	upper := make([]byte, len(sig))
	for i := 0; i < len(sig); i++ {
		c := sig[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	assert.True(t, Verify(string(upper), payload, "k"))
}
