// Package biz 实现查询网关的核心业务逻辑。
//
// 包含查询分类与分解、混合检索与分数融合、面向推理节点的
// 答案生成,以及把这些环节串联起来的编排服务。
package biz
