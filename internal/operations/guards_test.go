package operations

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/graphcompose/pkg/schema"
)

func TestCrypto_Hash(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "crypto.hash", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	got, err = invoke(t, reg, "crypto.hash", "abc", "md5")
	require.NoError(t, err)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", got)

	_, err = invoke(t, reg, "crypto.hash", "abc", "crc32")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported hash algorithm")

	_, err = invoke(t, reg, "crypto.hash")
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestCrypto_HMAC(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "crypto.hmac", "The quick brown fox jumps over the lazy dog", "key")
	require.NoError(t, err)
	assert.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)

	_, err = invoke(t, reg, "crypto.hmac", "data")
	assert.Error(t, err)
}

func TestCrypto_UUID(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "crypto.uuid")
	require.NoError(t, err)
	_, parseErr := uuid.Parse(got.(string))
	assert.NoError(t, parseErr)

	_, err = invoke(t, reg, "crypto.uuid", "extra")
	assert.Error(t, err)
}

func TestAssert_Equals(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "assert.equals", 100, float64(100))
	require.NoError(t, err)
	assert.Equal(t, float64(100), got, "passes actual through")

	got, err = invoke(t, reg, "assert.equals", map[string]any{"a": []any{1, 2}}, map[string]any{"a": []any{1.0, 2.0}})
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = invoke(t, reg, "assert.equals", 1, 2)
	require.Error(t, err)
	var gErr *schema.GraphError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, schema.ErrCodeAssertionFailed, gErr.Code)
	assert.Equal(t, 1, gErr.Details["expected"])
	assert.Equal(t, 2, gErr.Details["actual"])
}

func TestAssert_Contains(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "assert.contains", "hello world", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	_, err = invoke(t, reg, "assert.contains", []any{1, 2, 3}, 2.0)
	require.NoError(t, err)

	_, err = invoke(t, reg, "assert.contains", []any{"a"}, "b")
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))

	_, err = invoke(t, reg, "assert.contains", 42, "4")
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestAssert_Matches(t *testing.T) {
	reg := defaultRegistry(t)

	got, err := invoke(t, reg, "assert.matches", "order-1234", `\d+`)
	require.NoError(t, err)
	assert.Equal(t, Outputs{"result": "order-1234", "match": "1234"}, got)

	_, err = invoke(t, reg, "assert.matches", "order", `\d+`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeAssertionFailed))

	_, err = invoke(t, reg, "assert.matches", "x", `(`)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}
