package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerValidate(t *testing.T) {
	require.NoError(t, Logger{}.Validate())
	require.NoError(t, Logger{LogEncoding: "console"}.Validate())
	require.NoError(t, Logger{LogEncoding: "json"}.Validate())
	require.Error(t, Logger{LogEncoding: "xml"}.Validate())
}
