// Package sdk is a Go client for the Pylon deployment platform. It covers
// the two surfaces a bot developer needs outside the platform itself: the
// per-deployment key/value store and the live console stream of a deployment.
//
// # Features
//
// The SDK provides:
//   - Deployment lookup (GET /deployments/{id})
//   - KV namespaces with JSON and byte values, conditional put and delete,
//     cursor pagination and a generic TypedNamespace wrapper
//   - A console Stream that resolves a fresh socket URL before every
//     connect and reconnects after abnormal socket loss
//   - Pluggable Transport, Observer and ReconnectStrategy
//   - Structured errors (validation, protocol, network, timeout, server, client)
//
// # Basic Usage
//
//	client, err := sdk.NewClient(sdk.DefaultConfig().
//	    WithBaseURL("https://pylon.example.com/api").
//	    WithToken(os.Getenv("PYLON_TOKEN")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ns, err := client.Namespace("834213", "settings")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store a JSON value
//	err = ns.Put(ctx, "theme", map[string]string{"color": "dark"}, nil)
//
//	// Read it back; found is false when the key does not exist
//	var theme map[string]string
//	found, err := ns.Get(ctx, "theme", &theme)
//
// # Conditional Operations
//
// Put with IfNotExists leaves an existing key alone. Delete with PrevValue
// only removes the key when its current value is JSON-equal to PrevValue.
// Both read the namespace first and are therefore not atomic.
//
//	err = ns.Put(ctx, "owner", "alice", &sdk.PutOptions{IfNotExists: true})
//	err = ns.Delete(ctx, "owner", &sdk.DeleteOptions{PrevValue: "alice"})
//
// # Pagination
//
// List and Items fetch the whole namespace, skip past the From key and then
// keep at most Limit entries:
//
//	keys, err := ns.List(ctx, &sdk.ListOptions{From: "b", Limit: 2})
//
// # Console Stream
//
// A Stream delivers open, close, error and message events to handlers in
// registration order. Handlers run on the stream's read goroutine.
//
//	stream, err := client.Stream("834213")
//	stream.OnMessage(func(payload json.RawMessage) {
//	    fmt.Println(string(payload))
//	})
//	stream.OnClose(func(code int, text string) {
//	    log.Printf("closed: %d %s", code, text)
//	})
//	if err := stream.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//
// After an abnormal socket loss the stream emits an error and a close event
// and reconnects after the reconnect delay (250ms by default). A normal close
// from the platform (1000 or 1001) is reported but not followed by a
// reconnect unless WithReconnectOnClose(true) is given. Close stops all
// further reconnects, including ones already scheduled.
//
// # Error Handling
//
//	found, err := ns.Get(ctx, "theme", &theme)
//	switch {
//	case sdk.IsInvalidArgument(err):
//	    // missing key or namespace
//	case sdk.IsProtocolError(err):
//	    // the platform answered with an unexpected shape
//	case sdk.IsNotFound(err):
//	    // 404 from the platform
//	}
//
// # Observability
//
// Config.WithObserver installs hooks for requests and stream lifecycle.
// MetricsCollector keeps in-memory counters; CompositeObserver fans out to
// several observers. Config.WithLogger routes SDK logs to a logrus entry.
package sdk
