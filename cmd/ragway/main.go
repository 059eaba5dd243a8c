// Package main is the entry point for the Ragway query gateway.
//
//	@title						Ragway Gateway API
//	@version					1.0
//	@description				RAG 查询网关 - 混合检索、自适应负载均衡与分层缓存
//	@termsOfService				https://github.com/kart-io/ragway
//
//	@contact.name				Ragway Team
//	@contact.url				https://github.com/kart-io/ragway
//
//	@license.name				Apache 2.0
//	@license.url				http://www.apache.org/licenses/LICENSE-2.0.html
//
//	@host						localhost:8100
//	@BasePath					/
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/ragway/internal/gateway"
)

func main() {
	gateway.NewApp().Run()
}
