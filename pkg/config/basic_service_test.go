package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBasicServiceValidate(t *testing.T) {
	require.NoError(t, BasicService{}.Validate())
	require.NoError(t, BasicService{Enabled: false, Addresses: []string{"not even parsed when disabled"}}.Validate())
	require.NoError(t, BasicService{Enabled: true, Addresses: []string{"127.0.0.1:2112"}}.Validate())
	require.Error(t, BasicService{Enabled: true}.Validate(), "enabled service needs at least one address")
	require.Error(t, BasicService{Enabled: true, Addresses: []string{"not-a-host-port"}}.Validate())
}
