package httpapi_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/httpapi"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/types"
)

func TestEvents_BroadcastsDecisionsAndSync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := httpapi.NewHub(clock.NewManual(now), silentLogger())
	go hub.Run(ctx)

	f := newFixture(t, func(d *httpapi.Dependencies) { d.Hub = hub })

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.OutcomeRecorded(service.Outcome{
		Kind:     service.KindEntry,
		Accepted: true,
		Reason:   service.ReasonEntry,
		RecordID: 7,
		Plate:    "ABC123",
		Status:   store.StatusInside,
	})
	hub.SyncRecorded(service.SyncEvent{RecordID: 7, EventType: "IN", Result: service.StepSynced})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev types.Event
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "decision", ev.Type)
	assert.Equal(t, int64(7), ev.RecordID)
	assert.Equal(t, "INSIDE", ev.Status)
	assert.Equal(t, "2026-03-02T12:00:00Z", ev.At)

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "sync", ev.Type)
	assert.Equal(t, "synced", ev.Result)
}

func TestEvents_ClientDisconnectUnregisters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := httpapi.NewHub(nil, nil)
	go hub.Run(ctx)
	f := newFixture(t, func(d *httpapi.Dependencies) { d.Hub = hub })

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.ts.URL, "http")+"/v1/events", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_PublishWithoutRunnerDoesNotBlock(t *testing.T) {
	hub := httpapi.NewHub(nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.OutcomeRecorded(service.Outcome{RecordID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no hub runner")
	}
}
