// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/events/ws to receive every bus event as a
// JSON envelope, optionally filtered by topic.
package websocket
