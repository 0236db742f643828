// Package server assembles the ledger runtime: event and projection stores,
// the ledger, projection consumers, the settlement engine and report service,
// and the process surfaces (gRPC health and Prometheus metrics).
package server
