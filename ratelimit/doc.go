// Package ratelimit bounds per-actor usage of a resource with fixed-window counters.
//
// Windows are aligned to the Unix epoch, so every caller in the same window agrees on
// the counter key. Bursts at window boundaries are accepted.
package ratelimit
