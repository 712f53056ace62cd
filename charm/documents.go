// ABOUTME: Document-store operations layered on the Charm KV client
// ABOUTME: JSON documents under collection-prefixed keys with merge, batch, and watch
package charm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrDocumentNotFound = errors.New("document not found")

// Collection name constants. Keys are "<collection>/<id>".
const (
	CollectionPresence    = "presence"
	CollectionResources   = "resources"
	CollectionDiscussions = "discussions"
	CollectionMessages    = "messages"
	CollectionComments    = "comments"
)

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

// SetDocument stores a JSON document, replacing any existing value.
func (c *Client) SetDocument(collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return c.Set(docKey(collection, id), data)
}

// GetDocument unmarshals a document into out. Returns
// ErrDocumentNotFound when the key is absent.
func (c *Client) GetDocument(collection, id string, out any) error {
	data, err := c.Get(docKey(collection, id))
	if err != nil {
		return ErrDocumentNotFound
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return nil
}

// MergeDocument applies fields over the existing document, creating it
// if absent. Top-level merge only; this backend is last-write-wins.
func (c *Client) MergeDocument(collection, id string, fields map[string]any) error {
	merged := map[string]any{}
	if data, err := c.Get(docKey(collection, id)); err == nil {
		if err := json.Unmarshal(data, &merged); err != nil {
			// Corrupt remote doc, overwrite it
			merged = map[string]any{}
		}
	}

	for k, v := range fields {
		merged[k] = v
	}

	return c.SetDocument(collection, id, merged)
}

// DeleteDocument removes a document. Deleting an absent document is not
// an error.
func (c *Client) DeleteDocument(collection, id string) error {
	return c.Delete(docKey(collection, id))
}

// ListDocuments returns the raw JSON of every document in a collection,
// ordered by id.
func (c *Client) ListDocuments(collection string) (map[string]json.RawMessage, error) {
	prefix := []byte(collection + "/")
	keys, err := c.KeysWithPrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}

	docs := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		data, err := c.Get(k)
		if err != nil {
			// Key disappeared between listing and read, skip it
			continue
		}
		docs[string(k[len(prefix):])] = json.RawMessage(data)
	}
	return docs, nil
}

// BatchSet writes several documents of one collection. The underlying
// store has no multi-key transaction, so this is best-effort: it stops
// at the first failure and syncs once at the end.
func (c *Client) BatchSet(collection string, docs map[string]any) error {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		data, err := json.Marshal(docs[id])
		if err != nil {
			return fmt.Errorf("failed to marshal document %s: %w", id, err)
		}
		if err := c.setNoSync(docKey(collection, id), data); err != nil {
			return fmt.Errorf("failed to write document %s: %w", id, err)
		}
	}

	if c.Config().AutoSync {
		_ = c.Sync()
	}
	return nil
}

func (c *Client) setNoSync(key, value []byte) error {
	if c.testClient != nil {
		return c.testClient.Set(key, value)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Set(key, value)
}

// WatchDocument polls a document and invokes fn with the new raw value
// whenever it changes. The first observed value is also delivered, so a
// watcher opened against an existing document sees its current state.
// Returns a cancel function that stops the watch; safe to call twice.
func (c *Client) WatchDocument(collection, id string, fn func(json.RawMessage)) func() {
	interval := c.Config().PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []byte
		seen := false

		poll := func() {
			if c.Config().AutoSync {
				_ = c.Sync()
			}
			data, err := c.Get(docKey(collection, id))
			if err != nil {
				return
			}
			if seen && bytes.Equal(data, last) {
				return
			}
			last = data
			seen = true
			fn(json.RawMessage(data))
		}

		poll()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
