// SPDX-License-Identifier: MIT

package handover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/flockd/internal/sealbox"
	"github.com/ManuGH/flockd/internal/session/fleet"
	"github.com/ManuGH/flockd/internal/session/model"
	"github.com/ManuGH/flockd/internal/session/pairing"
	"github.com/ManuGH/flockd/internal/store/credstore"
	"github.com/ManuGH/flockd/internal/store/sessionstore"
	"github.com/ManuGH/flockd/internal/upstream"
	"github.com/ManuGH/flockd/internal/upstream/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newFleet builds a fleet over the shared store, web or worker flavored.
func newFleet(t *testing.T, store sessionstore.Store, dialer *fake.Dialer, webTier bool, maxSessions int) *fleet.Manager {
	t.Helper()
	box, err := sealbox.New([]byte("test-seed"))
	require.NoError(t, err)
	creds := credstore.NewManager(credstore.NewMemoryBackend(), box)
	t.Cleanup(func() { _ = creds.Close(context.Background()) })

	f := fleet.NewManager(fleet.Config{
		Sessions:     store,
		Creds:        creds,
		Pairing:      pairing.NewCoordinator(pairing.NewMemoryStore()),
		Dialer:       dialer,
		SocketConfig: upstream.DefaultSocketConfig(),
		MaxSessions:  maxSessions,
		WebTier:      webTier,
	})
	t.Cleanup(func() { f.Shutdown(context.Background()) })
	return f
}

func connectWebSession(t *testing.T, f *fleet.Manager, sock *fake.Socket, sessionID string) {
	t.Helper()
	sock.SetUserID("4915112345678:17@s.chat.net")
	ctrl, err := f.Create(context.Background(), fleet.CreateOptions{SessionID: sessionID, UserID: 9000000001})
	require.NoError(t, err)
	sock.EmitConnection(upstream.StateOpen, 0)
	require.Eventually(t, func() bool { return ctrl.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestSchedulerDetachesAfterDelay(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	sock := fake.NewSocket()
	f := newFleet(t, store, fake.NewDialer(sock), true, 5)
	connectWebSession(t, f, sock, "session_web")

	s := NewScheduler(f, 20*time.Millisecond)
	t.Cleanup(s.Stop)
	s.Arm("session_web")

	assert.Eventually(t, func() bool {
		_, owned := f.Get("session_web")
		return !owned
	}, time.Second, 5*time.Millisecond)

	// Detach leaves the upstream connection and the record alive for the
	// worker tier.
	assert.False(t, sock.Closed())
	rec, err := store.Get(context.Background(), "session_web")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsConnected)
	assert.Equal(t, model.SourceWeb, rec.Source)
	assert.False(t, rec.Detected)
}

func TestSchedulerCancelKeepsSession(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	sock := fake.NewSocket()
	f := newFleet(t, store, fake.NewDialer(sock), true, 5)
	connectWebSession(t, f, sock, "session_web")

	s := NewScheduler(f, 20*time.Millisecond)
	t.Cleanup(s.Stop)
	s.Arm("session_web")
	s.Cancel("session_web")

	time.Sleep(60 * time.Millisecond)
	_, owned := f.Get("session_web")
	assert.True(t, owned)
}

func TestSchedulerSkipsDisconnectedSessions(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	sock := fake.NewSocket()
	f := newFleet(t, store, fake.NewDialer(sock), true, 5)

	// Still connecting: never reached open.
	_, err := f.Create(context.Background(), fleet.CreateOptions{SessionID: "session_web", UserID: 9000000001})
	require.NoError(t, err)

	s := NewScheduler(f, 10*time.Millisecond)
	t.Cleanup(s.Stop)
	s.Arm("session_web")

	time.Sleep(50 * time.Millisecond)
	_, owned := f.Get("session_web")
	assert.True(t, owned, "only open sessions are handed over")
}

func TestDetectorClaimsAndAdopts(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &model.Session{
		SessionID:        "session_web",
		UserID:           9000000001,
		PhoneNumber:      "+4915112345678",
		IsConnected:      true,
		ConnectionStatus: model.StatusConnected,
		Source:           model.SourceWeb,
	}))

	worker := newFleet(t, store, fake.NewDialer(), false, 5)
	d := NewDetector(worker, store, 10*time.Millisecond)
	d.scan(ctx)

	_, owned := worker.Get("session_web")
	assert.True(t, owned)

	rec, err := store.Get(ctx, "session_web")
	require.NoError(t, err)
	assert.True(t, rec.Detected)
}

func TestDetectorIgnoresOwnedAndDetected(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &model.Session{
		SessionID:   "session_claimed",
		UserID:      9000000001,
		IsConnected: true,
		Source:      model.SourceWeb,
		Detected:    true,
	}))

	dialer := fake.NewDialer()
	worker := newFleet(t, store, dialer, false, 5)
	d := NewDetector(worker, store, 10*time.Millisecond)
	d.scan(ctx)

	assert.Equal(t, 0, worker.Count())
	assert.Equal(t, 0, dialer.Dials())
}

func TestDetectorReleasesClaimWhenFleetFull(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &model.Session{
		SessionID:   "session_web",
		UserID:      9000000001,
		IsConnected: true,
		Source:      model.SourceWeb,
	}))

	worker := newFleet(t, store, fake.NewDialer(), false, 1)
	_, err := worker.Create(ctx, fleet.CreateOptions{SessionID: "session_other", UserID: 1})
	require.NoError(t, err)

	d := NewDetector(worker, store, 10*time.Millisecond)
	d.scan(ctx)

	_, owned := worker.Get("session_web")
	assert.False(t, owned)

	rec, err := store.Get(ctx, "session_web")
	require.NoError(t, err)
	assert.False(t, rec.Detected, "a failed adoption releases the claim")
}

func TestConcurrentDetectorsClaimOnce(t *testing.T) {
	ctx := context.Background()
	store := sessionstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &model.Session{
		SessionID:   "session_web",
		UserID:      9000000001,
		IsConnected: true,
		Source:      model.SourceWeb,
	}))

	dialerA, dialerB := fake.NewDialer(), fake.NewDialer()
	workerA := newFleet(t, store, dialerA, false, 5)
	workerB := newFleet(t, store, dialerB, false, 5)
	detA := NewDetector(workerA, store, 10*time.Millisecond)
	detB := NewDetector(workerB, store, 10*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); detA.scan(ctx) }()
	go func() { defer wg.Done(); detB.scan(ctx) }()
	wg.Wait()

	_, ownedA := workerA.Get("session_web")
	_, ownedB := workerB.Get("session_web")
	assert.NotEqual(t, ownedA, ownedB, "exactly one worker adopts the session")
	assert.Equal(t, 1, dialerA.Dials()+dialerB.Dials())
}

func TestDetectorRunStopsOnContextCancel(t *testing.T) {
	store := sessionstore.NewMemoryStore()
	worker := newFleet(t, store, fake.NewDialer(), false, 5)
	d := NewDetector(worker, store, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("detector did not stop")
	}
}
