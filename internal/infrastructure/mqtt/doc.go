// Package mqtt connects to the plant broker and delivers WinCC tag
// messages to the ingest pipeline.
//
// It wraps paho.mqtt.golang with:
//   - A randomised client id suffix so instances never evict each other
//   - Last Will and Testament on electrolyser/system/status
//   - Subscription tracking restored after every automatic reconnect
//   - Panic recovery around message handlers
//
// The initial Connect is a single bounded attempt. The daemon retries it
// with backoff in the background so the HTTP surface stays up while the
// broker is unreachable.
//
// # Topics
//
//	WinCC/#                    telemetry filter (subscribe)
//	WinCC/AEM_SYS/<tag>        one tag value (simulator publishes)
//	electrolyser/system/status retained online/offline status
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Message handlers run on
// paho's router goroutine in arrival order and must not block.
package mqtt
