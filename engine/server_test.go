package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipdrop/models"
)

func TestServerDeliversEventsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := NewChannelSink(ctx, 16)
	server, err := Listen("127.0.0.1:0", sink)
	require.NoError(t, err)
	defer func() {
		_ = server.Close()
	}()

	emitter, err := Dial(server.Addr().String())
	require.NoError(t, err)
	defer func() {
		_ = emitter.Close()
	}()

	peer := models.Peer{IP: "10.0.0.5", ID: "peer-b"}
	require.NoError(t, emitter.OnSingleProgress(SingleProgress{Peer: peer, FileName: "f.jpg", BytesReceived: 50, BytesTotal: 100}))
	require.NoError(t, emitter.OnSingleProgress(SingleProgress{Peer: peer, FileName: "f.jpg", BytesReceived: 100, BytesTotal: 100}))
	require.NoError(t, emitter.OnFileDone(FileDone{FilePath: "/sandbox/f.jpg", BytesTotal: 100}))

	received := make([]Event, 0, 3)
	for len(received) < 3 {
		select {
		case event := <-sink.Events():
			received = append(received, event)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(received))
		}
	}

	first, ok := received[0].(SingleProgress)
	require.True(t, ok)
	assert.Equal(t, int64(50), first.BytesReceived)
	assert.Equal(t, "peer-b", first.ID)

	second, ok := received[1].(SingleProgress)
	require.True(t, ok)
	assert.Equal(t, int64(100), second.BytesReceived)

	done, ok := received[2].(FileDone)
	require.True(t, ok)
	assert.Equal(t, "/sandbox/f.jpg", done.FilePath)
}

func TestServerReportsUndecodableFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := NewChannelSink(ctx, 4)
	server, err := Listen("", sink)
	require.NoError(t, err)
	defer func() {
		_ = server.Close()
	}()

	conn, err := net.DialTimeout("tcp", server.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()

	require.NoError(t, WriteFrame(conn, []byte(`{"type":"unknown","payload":{}}`)))

	select {
	case err := <-server.Errors():
		assert.ErrorIs(t, err, ErrInvalidMessageType)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected decode error")
	}

	// The stream stays usable after a bad frame.
	frame, err := EncodeEvent(FolderDragNotify{FolderName: "photos"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, frame))

	select {
	case event := <-sink.Events():
		notify, ok := event.(FolderDragNotify)
		require.True(t, ok)
		assert.Equal(t, "photos", notify.FolderName)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected folder notify after bad frame")
	}
}

func TestChannelSinkStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := NewChannelSink(ctx, 0)
	cancel()

	err := sink.OnFileDone(FileDone{FilePath: "/sandbox/x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServerCloseIsIdempotent(t *testing.T) {
	sink := NewChannelSink(context.Background(), 1)
	server, err := Listen("127.0.0.1:0", sink)
	require.NoError(t, err)

	require.NoError(t, server.Close())
	assert.NoError(t, server.Close())

	_, open := <-server.Errors()
	assert.False(t, open)
}
