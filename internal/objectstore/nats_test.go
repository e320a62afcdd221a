package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KKami91/zonos-worker/internal/objectstore"
)

// StartTestServer starts an in-memory NATS server with JetStream enabled.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.NewNats(jetstreamContext, "test-bucket")
	require.NoError(t, err)

	ctx := context.Background()
	uploadData := []byte("RIFF-reference-clip")

	err = store.Upload(ctx, "voices/alice.wav", uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, "voices/alice.wav")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.NewNats(jetstreamContext, "shared-bucket")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "job-1.wav", []byte("audio")))

	second, err := objectstore.NewNats(jetstreamContext, "shared-bucket")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "job-1.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
}

func TestNatsObjectStore_MissingObject(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.NewNats(jetstreamContext, "empty-bucket")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "missing.wav")
	require.ErrorIs(t, err, nats.ErrObjectNotFound)
}
