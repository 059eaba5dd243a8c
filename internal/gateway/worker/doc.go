// Package worker 管理推理节点的注册、健康探测与负载调度。
//
// 注册表维护节点的滑动窗口延迟与失败率统计，监控器周期性
// 探测节点健康，均衡器按负载评分（平均延迟加失败率惩罚）
// 选择节点，同分节点间按权重轮询。所有节点均不健康时退化
// 为全集轮询，避免请求完全无处可去。
package worker
