/*
File: flight.go
Version: 1.1.0
Description: Sharded singleflight wrapper used to coalesce concurrent
             analysis of the same domain without funnelling every request
             through one group mutex.
*/

package main

import (
	"hash/maphash"
	"sync"

	"golang.org/x/sync/singleflight"
)

const flightShardCount = 128

type ShardedGroup struct {
	shards []*singleflight.Group
	seed   maphash.Seed
}

var flightHasherPool = sync.Pool{
	New: func() any {
		return new(maphash.Hash)
	},
}

func NewShardedGroup() *ShardedGroup {
	sg := &ShardedGroup{
		shards: make([]*singleflight.Group, flightShardCount),
		seed:   maphash.MakeSeed(),
	}
	for i := 0; i < flightShardCount; i++ {
		sg.shards[i] = &singleflight.Group{}
	}
	return sg
}

func (g *ShardedGroup) getShard(key string) *singleflight.Group {
	h := flightHasherPool.Get().(*maphash.Hash)
	// Reset before SetSeed: reusing a pooled hasher with a stale seed panics.
	h.Reset()
	h.SetSeed(g.seed)
	h.WriteString(key)
	idx := h.Sum64() & (flightShardCount - 1)
	flightHasherPool.Put(h)
	return g.shards[idx]
}

func (g *ShardedGroup) Do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	return g.getShard(key).Do(key, fn)
}

func (g *ShardedGroup) Forget(key string) {
	g.getShard(key).Forget(key)
}
