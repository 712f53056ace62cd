// ABOUTME: Test utilities for creating isolated charm clients
// ABOUTME: Uses temporary directories with BadgerDB and simulated connectivity faults
package charm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// testKV wraps BadgerDB to provide the same interface as charm/kv.KV
// for testing without requiring server connectivity.
type testKV struct {
	db *badger.DB
}

func (t *testKV) Get(key []byte) ([]byte, error) {
	var result []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

func (t *testKV) Set(key, value []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (t *testKV) Delete(key []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (t *testKV) Keys() ([][]byte, error) {
	var keys [][]byte
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func (t *testKV) Reset() error {
	return t.db.DropAll()
}

func (t *testKV) Close() error {
	return t.db.Close()
}

// testClient wraps testKV to match the Client interface without the
// charm/kv dependency. Connectivity and write faults are simulated so
// offline and partial-failure paths can be driven from tests.
type testClient struct {
	tkv       *testKV
	config    *Config
	mu        sync.RWMutex
	connected bool
	failWrite func(key []byte) error
}

func (c *testClient) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, fmt.Errorf("backend unreachable")
	}
	return c.tkv.Get(key)
}

func (c *testClient) Set(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("backend unreachable")
	}
	if c.failWrite != nil {
		if err := c.failWrite(key); err != nil {
			return err
		}
	}
	return c.tkv.Set(key, value)
}

func (c *testClient) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("backend unreachable")
	}
	return c.tkv.Delete(key)
}

func (c *testClient) Keys() ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil, fmt.Errorf("backend unreachable")
	}
	return c.tkv.Keys()
}

func (c *testClient) Config() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *testClient) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return fmt.Errorf("backend unreachable")
	}
	return nil
}

func (c *testClient) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tkv.Reset()
}

func (c *testClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetConnected flips the simulated backend reachability of a test
// client. No-op for real clients.
func (c *Client) SetConnected(connected bool) {
	if c.testClient == nil {
		return
	}
	c.testClient.mu.Lock()
	defer c.testClient.mu.Unlock()
	c.testClient.connected = connected
}

// FailWrites installs a per-key write fault for a test client. Passing
// nil clears the fault. No-op for real clients.
func (c *Client) FailWrites(fn func(key []byte) error) {
	if c.testClient == nil {
		return
	}
	c.testClient.mu.Lock()
	defer c.testClient.mu.Unlock()
	c.testClient.failWrite = fn
}

// NewTestClient creates a charm client using a temporary directory for
// testing. The returned cleanup function should be deferred to remove
// the temp directory. Watch polling runs at a short interval so tests
// observing live subscriptions don't wait on production cadence.
func NewTestClient(t *testing.T) (*Client, func()) {
	t.Helper()

	// Create temp directory for test data
	tmpDir, err := os.MkdirTemp("", "studyhall-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	// Create the data directory
	dataDir := filepath.Join(tmpDir, "studyhall")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create data dir: %v", err)
	}

	// Configure badger options for the temp directory
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil) // Suppress badger logs in tests

	// Open BadgerDB directly
	db, err := badger.Open(opts)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open badger: %v", err)
	}

	tkv := &testKV{db: db}

	cfg := &Config{
		Host:         "localhost",
		AutoSync:     false,
		PollInterval: 20 * time.Millisecond,
	}

	tc := &testClient{
		tkv:       tkv,
		config:    cfg,
		connected: true,
	}

	c := &Client{
		kv:         nil, // Use test implementation
		config:     tc.config,
		testClient: tc,
	}

	cleanup := func() {
		if db != nil {
			if err := db.Close(); err != nil {
				t.Logf("Warning: failed to close test database: %v", err)
			}
		}
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Logf("Warning: failed to remove temp directory %s: %v", tmpDir, err)
		}
	}

	return c, cleanup
}
