// Package http provides a monitoring endpoint for a running dNet server.
//
// Routes:
//
//   - GET /metrics: Prometheus text format of the server's metric set
//   - GET /stats: JSON snapshot (clients, shard loads and their distribution, pool usage, traffic rates)
//   - GET /clients: JSON list of the connected clients with remote address and groups
//   - DELETE /clients/{id}: closes the connection of a client
//   - GET /groups/{name}: JSON list of the members of a group
//
// With debug logging enabled every request is logged with its status and duration.
package http
