package creds

import (
	"context"
	"testing"

	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestHashiVaultProvider_Get(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	vaultC, vaultAddr := createVaultTestContainer(t)
	defer vaultC.Terminate(context.Background())

	// initialize vault client and seed a connection string
	vaultClient, err := api.NewClient(&api.Config{Address: vaultAddr})
	require.NoError(t, err, "failed to create vault client")
	vaultClient.SetToken("myroot-token")

	_, err = vaultClient.Logical().Write("secret/data/vecinfo", map[string]interface{}{
		"data": map[string]string{"pg-main": "postgres://u:p@h/db"},
	})
	require.NoError(t, err, "failed to write secret to vault")

	provider, err := NewHashiVaultProvider(vaultAddr, "secret/data/vecinfo", "myroot-token")
	require.NoError(t, err, "failed to create HashiVaultProvider")

	t.Run("existed key", func(t *testing.T) {
		val, err := provider.Get("pg-main")
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@h/db", val)
	})

	t.Run("non-existed key", func(t *testing.T) {
		_, err := provider.Get("mysql-gis")
		require.Error(t, err)
	})

	t.Run("invalid token", func(t *testing.T) {
		invalidProvider, err := NewHashiVaultProvider(vaultAddr, "secret/data/vecinfo", "invalid-token")
		require.NoError(t, err)

		_, err = invalidProvider.Get("pg-main")
		require.ErrorContains(t, err, "permission denied")
	})

	t.Run("invalid api address", func(t *testing.T) {
		invalidProvider, err := NewHashiVaultProvider("http://localhost:1234", "secret/data/vecinfo", "myroot-token")
		require.NoError(t, err)
		_, err = invalidProvider.Get("pg-main")
		require.ErrorContains(t, err, "connection refused")
	})
}

func createVaultTestContainer(t *testing.T) (vaultC testcontainers.Container, vaultAddr string) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "vault:latest",
		ExposedPorts: []string{"8200/tcp"},
		Env: map[string]string{
			"VAULT_DEV_ROOT_TOKEN_ID":  "myroot-token",
			"VAULT_DEV_LISTEN_ADDRESS": "0.0.0.0:8200",
		},
		WaitingFor: wait.ForHTTP("/v1/sys/init").WithPort("8200/tcp"),
	}

	vaultC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start vault container: %v", err)
	}

	host, _ := vaultC.Host(ctx)
	port, _ := vaultC.MappedPort(ctx, "8200")

	vaultAddr = "http://" + host + ":" + port.Port()
	return vaultC, vaultAddr
}
