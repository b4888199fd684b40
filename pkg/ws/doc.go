// Package ws implements the relay connection gateway.
//
// A Gateway authenticates WebSocket connections, tracks each connection's
// session in the shared store, organises connections into rooms and
// dispatches inbound events through a fixed chain:
//
//	validate → authenticate → rate-limit → middleware → handler
//
// Every failure is turned into an Outcome at the gateway boundary; nothing
// reaches the transport as an unhandled fault.
//
// # Basic Usage
//
//	gw, err := ws.New(st, tokens,
//	    ws.WithAllowedOrigins("https://app.example.com"),
//	    ws.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//
//	// Register application events before Run freezes the router.
//	_ = gw.Register("typing", func(ctx context.Context, c *ws.Context) (ws.Outcome, error) {
//	    gw.BroadcastToRoom(ctx, c.Str("room_id"), "typing", map[string]any{"user_id": c.Identity.UserID})
//	    return ws.Outcome{"status": "sent"}, nil
//	}, ws.RateLimited("messages"))
//
//	go gw.Run(ctx)
//	http.Handle("/ws", gw)
//
// # Wire Format
//
// Clients send {"event", "request_id", "data"} frames. Replies echo the event
// and request id and carry the outcome under "data"; pushes (broadcasts and
// direct sends) are {"event", "data", "timestamp"}. The first frame on every
// connection is the connect outcome:
//
//	{"event":"connect","data":{"status":"connected","session_id":"…","user_id":"…"},"timestamp":…}
//
// Rejected connections receive an error outcome followed by a close frame with
// status 1008.
//
// # Built-in Events
//
//	join          {room_id}            → {status:"joined", room_id}
//	leave         {room_id}            → {status:"left", room_id}
//	message       {message, room_id?}  → {status:"sent"}, broadcasts "message"
//	button_press  {room_id?}           → {status:"success", count}, broadcasts "counter_update"
//	get_counter   {room_id?}           → {status:"success", count}
//	get_rooms     {}                   → {status:"success", rooms}
//	ping          {}                   → {status:"pong", timestamp} (public)
//
// # Sessions
//
// A session record exists exactly while a connection is authenticated and
// live. When an authenticated event finds no session the caller receives
// "Session expired" and the connection is terminated. If the store is
// unreachable the gateway keeps serving with the identity captured at connect
// time. Terminated connection ids are remembered in a Bloom filter and are
// never minted again.
//
// # Multiple Instances
//
// Room sizes are shared through store counters that every instance updates
// and periodically reconciles from per-instance heartbeats. Broadcasts reach
// only the connections held by the local instance.
package ws
