package vfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNeedsStaging(t *testing.T) {
	assert.True(t, NeedsStaging("sftp://user@host/data/file.gpkg"))
	assert.False(t, NeedsStaging("/data/file.gpkg"))
	assert.False(t, NeedsStaging("file.geojson"))
	assert.False(t, NeedsStaging("postgres://u:p@h/db"))
	assert.False(t, NeedsStaging("ftp://host/file"))
}

func TestStager_LocalizePassthrough(t *testing.T) {
	s := &Stager{}
	path, cleanup, err := s.Localize(context.Background(), "/data/file.gpkg")
	require.NoError(t, err)
	assert.Equal(t, "/data/file.gpkg", path)
	cleanup() // no-op for local paths
}

func TestStager_LocalizeErrors(t *testing.T) {
	s := &Stager{KeyPath: "testdata/test_ssh_key", Timeout: time.Second}

	t.Run("no user", func(t *testing.T) {
		_, _, err := s.Localize(context.Background(), "sftp://host/data/file.gpkg")
		assert.ErrorContains(t, err, "needs a user")
	})

	t.Run("missing key", func(t *testing.T) {
		noKey := &Stager{KeyPath: "testdata/no-such-key", Timeout: time.Second}
		_, _, err := noKey.Localize(context.Background(), "sftp://user@localhost/data/file.gpkg")
		assert.ErrorContains(t, err, "unable to read private key")
	})

	t.Run("bad key content", func(t *testing.T) {
		badKeyPath := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(badKeyPath, []byte("not a key"), 0o600))
		badKey := &Stager{KeyPath: badKeyPath, Timeout: time.Second}
		_, _, err := badKey.Localize(context.Background(), "sftp://user@localhost/data/file.gpkg")
		assert.ErrorContains(t, err, "unable to parse private key")
	})

	t.Run("unreachable host", func(t *testing.T) {
		_, _, err := s.Localize(context.Background(), "sftp://user@localhost:1/data/file.gpkg")
		assert.ErrorContains(t, err, "failed to dial")
	})
}

func TestStager_LocalizeSFTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	hostAndPort, teardown := startTestContainer(t)
	defer teardown()

	s := &Stager{KeyPath: "testdata/test_ssh_key", Timeout: time.Second * 10}

	t.Run("download", func(t *testing.T) {
		path, cleanup, err := s.Localize(context.Background(), "sftp://test@"+hostAndPort+"/tmp/cities.geojson")
		require.NoError(t, err)
		defer cleanup()

		assert.Equal(t, ".geojson", filepath.Ext(path), "staged file keeps the source extension")
		exp, err := os.ReadFile("testdata/cities.geojson")
		require.NoError(t, err)
		act, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, string(exp), string(act))

		cleanup()
		assert.NoFileExists(t, path)
	})

	t.Run("missing remote file", func(t *testing.T) {
		_, _, err := s.Localize(context.Background(), "sftp://test@"+hostAndPort+"/tmp/nope.geojson")
		assert.ErrorContains(t, err, "can't open remote file")
	})
}

func startTestContainer(t *testing.T) (hostAndPort string, teardown func()) {
	t.Helper()
	ctx := context.Background()
	pubKey, err := os.ReadFile("testdata/test_ssh_key.pub")
	require.NoError(t, err)

	req := testcontainers.ContainerRequest{
		AlwaysPullImage: true,
		Image:           "lscr.io/linuxserver/openssh-server:latest",
		ExposedPorts:    []string{"2222/tcp"},
		WaitingFor:      wait.NewLogStrategy("done.").WithStartupTimeout(time.Second * 60),
		Files: []testcontainers.ContainerFile{
			{HostFilePath: "testdata/cities.geojson", ContainerFilePath: "/tmp/cities.geojson"},
		},
		Env: map[string]string{
			"PUBLIC_KEY": string(pubKey),
			"USER_NAME":  "test",
			"TZ":         "Etc/UTC",
		},
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start container: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "2222")
	require.NoError(t, err)

	return host + ":" + port.Port(), func() { _ = container.Terminate(ctx) }
}
