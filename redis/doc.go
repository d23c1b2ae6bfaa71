// Package redis provides a Redis-backed ratelimit.CounterStore.
//
// Each window is one key incremented with INCRBY and given an absolute EXPIREAT at the
// window end inside a MULTI/EXEC block, so expired counters disappear on their own.
package redis
