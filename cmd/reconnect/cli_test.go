package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/reconnect/pkg/api"
	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/queue"
	"github.com/cuemby/reconnect/pkg/scanner"
	"github.com/cuemby/reconnect/pkg/storage"
	"github.com/cuemby/reconnect/pkg/types"
)

type noopReconciler struct{}

func (noopReconciler) Reconcile(ctx context.Context, job types.ReconciliationJob) (types.CapacityMap, error) {
	return types.CapacityMap{}, nil
}

type noopScanner struct{}

func (noopScanner) Scan(ctx context.Context) (*scanner.Result, error) {
	return &scanner.Result{From: 5, To: 4}, nil
}

func (noopScanner) ScanFrom(ctx context.Context, block uint64) (*scanner.Result, error) {
	return &scanner.Result{From: block, To: block + 1, Enqueued: 1}, nil
}

func startAdminAPI(t *testing.T) (string, *queue.Queue) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	q, err := queue.New(store, queue.DefaultConfig(), events.Discard)
	require.NoError(t, err)

	srv := api.NewServer(api.Options{Queue: q, Reconciler: noopReconciler{}, Scanner: noopScanner{}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, q
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestQueueCommands(t *testing.T) {
	addr, q := startAdminAPI(t)

	out, err := execute(t, "queue", "add", "1", "1000", "--transitive", "--api", addr)
	require.NoError(t, err)
	assert.Equal(t, "✓ Job 1:1000 waiting\n", out)

	job, err := q.Get("1:1000")
	require.NoError(t, err)
	assert.True(t, job.Data.Transitive)

	out, err = execute(t, "queue", "pause", "--api", addr)
	require.NoError(t, err)
	assert.Equal(t, "✓ Queue paused\n", out)
	assert.True(t, q.IsPaused())

	out, err = execute(t, "queue", "status", "--api", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is paused")

	out, err = execute(t, "queue", "remove", "1:1000", "--api", addr)
	require.NoError(t, err)
	assert.Equal(t, "✓ Job 1:1000 removed\n", out)

	_, err = execute(t, "queue", "retry", "1:1000", "--api", addr)
	assert.Error(t, err)

	_, err = execute(t, "queue", "list", "sleeping", "--api", addr)
	assert.Error(t, err)
}

func TestScanCommand(t *testing.T) {
	addr, _ := startAdminAPI(t)

	out, err := execute(t, "scan", "--api", addr)
	require.NoError(t, err)
	assert.Equal(t, "No new blocks after 4\n", out)

	out, err = execute(t, "scan", "9", "--api", addr)
	require.NoError(t, err)
	assert.Equal(t, "Scanned blocks 9..10, queued 1 jobs\n", out)
}

func TestKeysGenerate(t *testing.T) {
	out, err := execute(t, "keys", "generate")
	require.NoError(t, err)
	assert.Contains(t, out, `"keyType": "X25519"`)
	assert.Contains(t, out, `"publicKey": "0x`)
}
