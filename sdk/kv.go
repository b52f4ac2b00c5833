package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Namespace is a client for one KV namespace of a deployment.
//
// The platform exposes namespaces as a flat list of items. Every read in
// this client fetches the whole item list and filters it locally, so the
// cost of Get, List and Items grows with the size of the namespace.
// Conditional writes (PutOptions.IfNotExists, DeleteOptions.PrevValue)
// read and then write in two requests and are not atomic against other
// writers.
//
// Example:
//
//	ns, err := sdk.NewNamespace(client.Transport(), "834213", "settings")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = ns.Put(ctx, "limits", Limits{Max: 10}, &sdk.PutOptions{IfNotExists: true})
//
//	var limits Limits
//	found, err := ns.Get(ctx, "limits", &limits)
type Namespace struct {
	transport    Transport
	deploymentID string
	name         string
}

// PutOptions controls Put and PutBytes.
type PutOptions struct {
	// IfNotExists skips the write when the key already holds a value
	IfNotExists bool
}

// DeleteOptions controls Delete.
type DeleteOptions struct {
	// PrevValue, when non-nil, makes the delete conditional: the key is only
	// deleted if its current value equals PrevValue. JSON values are
	// compared after decoding; a []byte PrevValue is compared byte-wise
	// against a byte value.
	PrevValue interface{}
}

// ListOptions paginates List and Items. From is applied before Limit.
type ListOptions struct {
	// From is an exclusive cursor: items up to and including this key are skipped.
	// An unknown key skips nothing.
	From string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Item is a decoded KV item. Exactly one of Value and Bytes is set.
type Item struct {
	Key string
	// Value is the JSON document for JSON-valued items
	Value json.RawMessage
	// Bytes is the raw value for byte-valued items
	Bytes []byte
	// ExpiresAt is when the item expires, or nil
	ExpiresAt *time.Time
}

// IsBytes reports whether the item holds raw bytes rather than JSON.
func (i Item) IsBytes() bool {
	return i.Value == nil
}

// Decode unmarshals a JSON-valued item into dest.
func (i Item) Decode(dest interface{}) error {
	if i.Value == nil {
		return newProtocolError("value.string", fmt.Sprintf("item %q holds bytes, not JSON", i.Key), nil).ToError()
	}
	if err := json.Unmarshal(i.Value, dest); err != nil {
		return fmt.Errorf("failed to decode value for key %q: %w", i.Key, err)
	}
	return nil
}

// NewNamespace creates a namespace client. It returns an invalid-argument
// error when transport, deploymentID or namespace is missing.
func NewNamespace(transport Transport, deploymentID, namespace string) (*Namespace, error) {
	if transport == nil {
		return nil, invalidArgument("missing", "transport", nil)
	}
	if deploymentID == "" {
		return nil, invalidArgument("missing", "deploymentID", nil)
	}
	if namespace == "" {
		return nil, invalidArgument("missing", "namespace", nil)
	}
	return &Namespace{
		transport:    transport,
		deploymentID: deploymentID,
		name:         namespace,
	}, nil
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// DeploymentID returns the ID of the deployment that owns the namespace.
func (n *Namespace) DeploymentID() string {
	return n.deploymentID
}

// Put stores value as JSON under key.
// With IfNotExists, an existing key of either representation is left untouched.
func (n *Namespace) Put(ctx context.Context, key string, value interface{}, opts *PutOptions) error {
	if key == "" {
		return invalidArgument("missing", "key", nil)
	}
	text, err := encodeJSONValue(value)
	if err != nil {
		return NewError(ErrorTypeValidation, err.Error(), ErrInvalidArgument).WithDetail("parameter", "value")
	}
	if skip, err := n.skipExisting(ctx, key, opts); err != nil || skip {
		return err
	}
	return n.transport.Do(ctx, http.MethodPut, n.itemPath(key), &KVPutRequest{String: &text}, nil)
}

// PutBytes stores data as the byte representation of key.
// The platform carries bytes as a JSON string, so only valid UTF-8 data
// round-trips unchanged.
func (n *Namespace) PutBytes(ctx context.Context, key string, data []byte, opts *PutOptions) error {
	if key == "" {
		return invalidArgument("missing", "key", nil)
	}
	if data == nil {
		return invalidArgument("missing", "data", nil)
	}
	if skip, err := n.skipExisting(ctx, key, opts); err != nil || skip {
		return err
	}
	text := string(data)
	return n.transport.Do(ctx, http.MethodPut, n.itemPath(key), &KVPutRequest{Bytes: &text}, nil)
}

func (n *Namespace) skipExisting(ctx context.Context, key string, opts *PutOptions) (bool, error) {
	if opts == nil || !opts.IfNotExists {
		return false, nil
	}
	_, _, found, err := n.find(ctx, key)
	return found, err
}

// Get decodes the JSON value stored under key into dest and reports whether
// the key exists. A key that holds bytes yields a protocol error.
func (n *Namespace) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if key == "" {
		return false, invalidArgument("missing", "key", nil)
	}
	if dest == nil {
		return false, invalidArgument("missing", "dest", nil)
	}

	items, idx, found, err := n.find(ctx, key)
	if err != nil || !found {
		return false, err
	}

	value := items[idx].Value
	if value.String == nil || *value.String == "" {
		return false, newProtocolError(
			fmt.Sprintf("response[%d].value.string", idx),
			fmt.Sprintf("response[%d].value.string is undefined", idx),
			items,
		).ToError()
	}
	if err := json.Unmarshal([]byte(*value.String), dest); err != nil {
		return false, fmt.Errorf("failed to decode value for key %q: %w", key, err)
	}
	return true, nil
}

// GetBytes returns the byte value stored under key and whether the key
// exists. A key that holds JSON yields a protocol error.
func (n *Namespace) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, invalidArgument("missing", "key", nil)
	}

	items, idx, found, err := n.find(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	value := items[idx].Value
	if value.Bytes == nil {
		return nil, false, newProtocolError(
			fmt.Sprintf("response[%d].value.bytes", idx),
			fmt.Sprintf("response[%d].value.bytes is undefined", idx),
			items,
		).ToError()
	}
	return []byte(*value.Bytes), true, nil
}

// List returns the keys of the namespace in platform order, paginated by opts.
func (n *Namespace) List(ctx context.Context, opts *ListOptions) ([]string, error) {
	items, err := n.fetchPage(ctx, opts)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key)
	}
	return keys, nil
}

// Items returns the decoded items of the namespace in platform order,
// paginated by opts. An item with neither representation is a protocol error.
func (n *Namespace) Items(ctx context.Context, opts *ListOptions) ([]Item, error) {
	all, err := n.fetchItems(ctx)
	if err != nil {
		return nil, err
	}
	start, end, err := paginate(all, opts)
	if err != nil {
		return nil, err
	}

	result := make([]Item, 0, end-start)
	for i := start; i < end; i++ {
		item, err := decodeItem(i, all)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

// Count returns the number of items in the namespace, or 0 when the
// platform does not list it.
func (n *Namespace) Count(ctx context.Context) (int, error) {
	summaries, err := listNamespaces(ctx, n.transport, n.deploymentID)
	if err != nil {
		return 0, err
	}
	for _, s := range summaries {
		if s.Namespace == n.name {
			return s.Count, nil
		}
	}
	return 0, nil
}

// Clear deletes every item in the namespace and returns how many were
// deleted. This cannot be undone.
func (n *Namespace) Clear(ctx context.Context) (int, error) {
	var resp ClearResponse
	path := buildPath("/deployments/{0}/kv/namespaces/{1}", n.deploymentID, n.name)
	if err := n.transport.Do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.KeysDeleted, nil
}

// Delete removes key. With a PrevValue, the key is only removed when its
// current value equals PrevValue; a missing key is left alone.
func (n *Namespace) Delete(ctx context.Context, key string, opts *DeleteOptions) error {
	if key == "" {
		return invalidArgument("missing", "key", nil)
	}

	if opts != nil && opts.PrevValue != nil {
		items, idx, found, err := n.find(ctx, key)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		equal, err := valueEquals(items[idx].Value, opts.PrevValue)
		if err != nil {
			return err
		}
		if !equal {
			return nil
		}
	}

	return n.transport.Do(ctx, http.MethodDelete, n.itemPath(key), nil, nil)
}

func valueEquals(current KVValue, prev interface{}) (bool, error) {
	if b, ok := prev.([]byte); ok && current.Bytes != nil {
		return bytes.Equal([]byte(*current.Bytes), b), nil
	}
	if current.String == nil {
		return false, nil
	}
	want, err := encodeJSONValue(prev)
	if err != nil {
		return false, NewError(ErrorTypeValidation, err.Error(), ErrInvalidArgument).WithDetail("parameter", "prevValue")
	}
	return jsonEqual([]byte(*current.String), []byte(want)), nil
}

func (n *Namespace) itemPath(key string) string {
	return buildPath("/deployments/{0}/kv/namespaces/{1}/items/{2}", n.deploymentID, n.name, key)
}

func (n *Namespace) fetchItems(ctx context.Context) ([]KVItem, error) {
	var items []KVItem
	path := buildPath("/deployments/{0}/kv/namespaces/{1}/items", n.deploymentID, n.name)
	if err := n.transport.Do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// find fetches all items and returns the index of key
func (n *Namespace) find(ctx context.Context, key string) ([]KVItem, int, bool, error) {
	items, err := n.fetchItems(ctx)
	if err != nil {
		return nil, -1, false, err
	}
	for i := range items {
		if items[i].Key == key {
			return items, i, true, nil
		}
	}
	return items, -1, false, nil
}

func (n *Namespace) fetchPage(ctx context.Context, opts *ListOptions) ([]KVItem, error) {
	items, err := n.fetchItems(ctx)
	if err != nil {
		return nil, err
	}
	start, end, err := paginate(items, opts)
	if err != nil {
		return nil, err
	}
	return items[start:end], nil
}

// paginate applies the cursor and then the limit, returning a half-open range
func paginate(items []KVItem, opts *ListOptions) (int, int, error) {
	start, end := 0, len(items)
	if opts == nil {
		return start, end, nil
	}
	if opts.Limit < 0 {
		return 0, 0, invalidArgument("incompatible", "limit", opts.Limit)
	}
	if opts.From != "" {
		for i := range items {
			if items[i].Key == opts.From {
				start = i + 1
				break
			}
		}
	}
	if opts.Limit > 0 && end-start > opts.Limit {
		end = start + opts.Limit
	}
	return start, end, nil
}

func decodeItem(i int, items []KVItem) (Item, error) {
	raw := items[i]
	item := Item{Key: raw.Key, ExpiresAt: raw.Value.ExpiresAt}

	switch {
	case raw.Value.String != nil && *raw.Value.String != "":
		doc := []byte(*raw.Value.String)
		if !json.Valid(doc) {
			return Item{}, newProtocolError(
				fmt.Sprintf("response[%d].value.string", i),
				fmt.Sprintf("response[%d].value.string is not valid JSON", i),
				items,
			).ToError()
		}
		item.Value = json.RawMessage(doc)
	case raw.Value.Bytes != nil:
		item.Bytes = []byte(*raw.Value.Bytes)
	default:
		return Item{}, newProtocolError(
			fmt.Sprintf("response[%d].value.string, response[%d].value.bytes", i, i),
			fmt.Sprintf("response[%d].value.string and response[%d].value.bytes are undefined", i, i),
			items,
		).ToError()
	}
	return item, nil
}

func listNamespaces(ctx context.Context, transport Transport, deploymentID string) ([]NamespaceSummary, error) {
	if deploymentID == "" {
		return nil, invalidArgument("missing", "deploymentID", nil)
	}
	var summaries []NamespaceSummary
	if err := transport.Do(ctx, http.MethodGet, buildPath("/deployments/{0}/kv/namespaces", deploymentID), nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}
