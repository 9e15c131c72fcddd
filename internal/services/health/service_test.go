package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"

	"frame-grabber-go/internal/models"
)

type fakeSession struct {
	mu   sync.Mutex
	snap models.SessionSnapshot
}

func (f *fakeSession) Snapshot() models.SessionSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) set(open, streaming bool) {
	f.mu.Lock()
	f.snap.DeviceOpen, f.snap.Streaming = open, streaming
	f.mu.Unlock()
}

func TestHealthReflectsSession(t *testing.T) {
	sess := &fakeSession{}
	svc := NewService("127.0.0.1:0", 5*time.Millisecond, sess, zerolog.Nop())
	require.NoError(t, svc.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	conn, err := grpc.NewClient(svc.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
		defer rcancel()
		resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(ServiceDevice))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(ServiceAcquisition))

	sess.set(true, true)
	require.Eventually(t, func() bool {
		return status(ServiceAcquisition) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(ServiceDevice))

	rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
	resp, err := client.Check(rctx, &healthpb.HealthCheckRequest{Service: ServiceDevice})
	rcancel()
	require.NoError(t, err)
	assert.True(t, proto.Equal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, resp))

	sess.set(true, false)
	require.Eventually(t, func() bool {
		return status(ServiceAcquisition) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("health service did not stop")
	}
}
