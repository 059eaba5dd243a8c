// Package store 提供查询网关的索引存储层。
//
// 该包定义了语义（向量）索引与关键词索引的接口抽象和具体实现，
// 两路索引共同支撑混合检索，并提供可选的重排序扩展点。
package store
