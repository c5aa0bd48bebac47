// Package transport carries JSON-RPC 2.0 over HTTP.
//
// # Overview
//
// Server turns a Handler into an http.Handler that accepts one request per
// POST body and answers with application/json. Notifications (requests
// without an id) are acknowledged with 202 and no body.
//
// The server-sent-events half has two sides:
//
//   - ReadEvents parses a text/event-stream body into Events, for clients
//     whose server may answer a POST with a stream instead of JSON.
//   - Hub fans JSON events out to any number of connected SSE clients.
//
// # Usage
//
//	srv := transport.NewServer(transport.HandlerFunc(
//	    func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
//	        if method != "ping" {
//	            return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method not found"}
//	        }
//	        return "pong", nil
//	    }))
//	http.Handle("/rpc", srv)
//
//	hub := transport.NewHub(transport.DefaultHubConfig())
//	http.Handle("/events", hub)
//	hub.Publish("delivered", resp)
//
// # Thread Safety
//
// Server and Hub are safe for concurrent use. Hub.Publish never blocks on
// a slow client.
package transport
