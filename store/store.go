// Package store 提供缓存层（core.Cache）的实现：进程内、Redis、以及两级组合。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
// 示例：
//
//	var cache core.Cache = store.NewMemoryStore(100000)
//	var tiered core.Cache = store.NewTieredStore(store.NewMemoryStore(10000), redisStore, time.Minute)
package store
