// Package timeouts defines shared timeout constants used across commands.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// HealthWait caps how long tooling waits for a peer to report SERVING.
const HealthWait = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// ProjectionDrain limits how long the runtime waits for projector consumers
// to stop after cancellation.
const ProjectionDrain = 10 * time.Second
