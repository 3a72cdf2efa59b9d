package enrichment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedisBackend_Keys(t *testing.T) {
	t.Parallel()

	rb := NewRedisBackendWithClient(nil, "cache:")

	require.Equal(t, "cache:u1", rb.redisKey([]byte("u1")))
	require.Equal(t, []string{"cache:a", "cache:b"}, rb.redisKeys([][]byte{[]byte("a"), []byte("b")}))
}

func TestRedisValuesToBytes(t *testing.T) {
	t.Parallel()

	values, err := redisValuesToBytes([]interface{}{"abc", nil, []byte{1}})
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc"), nil, {1}}, values)

	_, err = redisValuesToBytes([]interface{}{10})
	require.Error(t, err)
}
