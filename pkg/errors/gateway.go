package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

func init() {
	RegisterService(ServiceGateway, "ragway-gateway")
}

// ============================================================================
// Query Gateway Errors (Service: 01)
// ============================================================================

var (
	// ErrEmptyQuery indicates the query text is empty after normalization.
	ErrEmptyQuery = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryRequest, 0),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Query text is empty",
		MessageZH: "查询文本为空",
	})

	// ErrQueryTooLong indicates the query exceeds the maximum length.
	ErrQueryTooLong = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryRequest, 1),
		HTTP:      http.StatusBadRequest,
		GRPCCode:  codes.InvalidArgument,
		MessageEN: "Query text too long",
		MessageZH: "查询文本过长",
	})

	// ErrWorkerUnavailable indicates no worker could accept the request.
	ErrWorkerUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryNetwork, 0),
		HTTP:      http.StatusServiceUnavailable,
		GRPCCode:  codes.Unavailable,
		MessageEN: "No inference worker available",
		MessageZH: "没有可用的推理节点",
	})

	// ErrWorkerNotFound indicates the requested worker is not registered.
	ErrWorkerNotFound = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryResource, 0),
		HTTP:      http.StatusNotFound,
		GRPCCode:  codes.NotFound,
		MessageEN: "Worker not found",
		MessageZH: "推理节点不存在",
	})

	// ErrGenerationFailure indicates the worker failed to generate an answer.
	ErrGenerationFailure = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryInternal, 0),
		HTTP:      http.StatusBadGateway,
		GRPCCode:  codes.Internal,
		MessageEN: "Answer generation failed",
		MessageZH: "回答生成失败",
	})

	// ErrGenerationTimeout indicates answer generation exceeded its deadline.
	ErrGenerationTimeout = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryTimeout, 0),
		HTTP:      http.StatusGatewayTimeout,
		GRPCCode:  codes.DeadlineExceeded,
		MessageEN: "Answer generation timeout",
		MessageZH: "回答生成超时",
	})

	// ErrRetrievalFailure indicates both retrieval indexes failed.
	ErrRetrievalFailure = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryInternal, 1),
		HTTP:      http.StatusBadGateway,
		GRPCCode:  codes.Internal,
		MessageEN: "Retrieval failed",
		MessageZH: "检索失败",
	})

	// ErrEmbeddingFailure indicates query embedding could not be computed.
	ErrEmbeddingFailure = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryInternal, 2),
		HTTP:      http.StatusBadGateway,
		GRPCCode:  codes.Internal,
		MessageEN: "Query embedding failed",
		MessageZH: "查询向量化失败",
	})

	// ErrDecompositionFailure indicates query decomposition produced no sub-queries.
	ErrDecompositionFailure = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryInternal, 3),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Internal,
		MessageEN: "Query decomposition failed",
		MessageZH: "查询分解失败",
	})

	// ErrCacheUnavailable indicates the cache backend is unreachable.
	ErrCacheUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceGateway, CategoryCache, 0),
		HTTP:      http.StatusInternalServerError,
		GRPCCode:  codes.Unavailable,
		MessageEN: "Cache backend unavailable",
		MessageZH: "缓存后端不可用",
	})
)

// retryableCodes 标记可在另一个推理节点上重试的错误码。
// 检索与缓存故障走降级路径而非重试,不在此列。
var retryableCodes = map[int]struct{}{
	ErrWorkerUnavailable.Code: {},
	ErrGenerationFailure.Code: {},
	ErrGenerationTimeout.Code: {},
	ErrNetwork.Code:           {},
	ErrConnectionRefused.Code: {},
	ErrTimeout.Code:           {},
}

// Retryable reports whether the error is worth retrying on a different worker.
func Retryable(err error) bool {
	e, ok := err.(*Errno)
	if !ok {
		return false
	}
	_, ok = retryableCodes[e.Code]
	return ok
}
