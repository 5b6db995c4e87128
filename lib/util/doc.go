// Package util provides concurrency and statistics helpers for the dNet socket engine.
//
// The package contains:
//   - scheduler: OrderedScheduler, a lock-free multi-producer single-consumer task queue with
//     one dedicated worker goroutine. Every connection shard owns one, so callbacks of a shard
//     run one after another in submission order.
//   - statistics: summary statistics over a set of values, used to report how evenly
//     connections are distributed over the shards.
package util
