// Package event defines the ledger's event envelope and the registry of
// event types the core owns.
//
// Events are immutable facts. Registered types are closed variants: their
// payloads are decoded and validated before persistence, and consumers
// switch on the decoded payload type instead of inspecting raw JSON.
// Unregistered types pass through as opaque JSON so other subsystems can
// write through the same ledger.
package event
