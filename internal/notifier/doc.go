// Package notifier fans a notification out to every configured recipient.
//
// # Delivery
//
// The Dispatcher delegates the actual request to a Deliverer (the Bark push
// relay by default, optionally Telegram). Each recipient is attempted
// independently with a bounded retry loop and a fixed backoff; a recipient
// that keeps failing is logged and dropped without affecting the others.
//
// # Pacing
//
// All outbound attempts share one token bucket so a burst of retries against
// several recipients cannot hammer the relay.
//
// # History
//
// For operator visibility the dispatcher keeps a small in-memory history of
// recent delivery outcomes. Nothing is persisted.
package notifier
