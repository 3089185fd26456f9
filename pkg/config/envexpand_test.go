package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_BracedAndBare(t *testing.T) {
	t.Setenv("EVALHARNESS_TEST_VAR", "resolved")

	out := ExpandEnv([]byte("key: ${EVALHARNESS_TEST_VAR}\nother: $EVALHARNESS_TEST_VAR\n"))
	assert.Equal(t, "key: resolved\nother: resolved\n", string(out))
}

func TestExpandEnv_MissingExpandsEmpty(t *testing.T) {
	out := ExpandEnv([]byte("key: ${EVALHARNESS_DEFINITELY_UNSET_VAR}"))
	assert.Equal(t, "key: ", string(out))
}
