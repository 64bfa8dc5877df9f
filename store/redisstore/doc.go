// Package redisstore implements store.Backend on Redis.
//
// Multi-key transitions (create, rotate, revoke, sweep) are Lua scripts executed with
// EVALSHA. Keys are built from a single prefix, so all keys of one deployment must live
// on one Redis node or in one cluster hash slot.
package redisstore
