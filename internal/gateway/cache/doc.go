// Package cache 提供查询网关的分层缓存。
//
// 缓存分三层：查询向量层、完整回答层与检索候选层，
// 各层有独立的 TTL 与命中统计。后端故障时缓存整体降级为
// 未命中，请求继续走完整流水线，不向调用方暴露缓存错误。
package cache
