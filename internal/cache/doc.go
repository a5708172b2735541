// Package cache is the fast, volatile tier of the shortener.
//
// Every Store method is fail-soft: connectivity loss never surfaces as an
// error. Reads degrade to a miss, writes to a no-op and counters to zero,
// and the failure is logged. Connected reports whether the last command
// reached the server so callers can distinguish a real miss from an outage.
//
// Keys:
//
//	url:{id}           original URL, mapping TTL
//	url:fallback:{id}  JSON degraded record, degraded TTL
//	clicks:{id}        pending click counter, no TTL
//
// Pending counters are settled with a Lua script after they were flushed,
// so clicks counted while a flush is in flight stay pending.
package cache
