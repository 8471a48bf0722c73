// Package util holds small building blocks shared by the backend engines:
//
//   - functions: FNV-1a based hashing (seeded for in-process sharding, unseeded
//     StableID for identifiers that must agree across processes)
//   - deadlineheap: a keyed min-heap used by the maple engine to expire
//     entries in deadline order
package util
