// Package idgen 提供基于 snowflake 的全局唯一 ID 生成
package idgen

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// 节点编号取自 NODE_ID 环境变量，多实例部署时必须互不相同。
func initNode() {
	nodeID := int64(1)
	if v := os.Getenv("NODE_ID"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		panic(fmt.Sprintf("failed to init snowflake node: %v", err))
	}
	node = n
}

// GenID 生成一个全局唯一的递增 ID
func GenID() int64 {
	once.Do(initNode)
	return node.Generate().Int64()
}

// OrderID 生成订单 ID
func OrderID() string {
	return fmt.Sprintf("ORD-%d", GenID())
}

// TradeID 生成成交 ID
func TradeID() string {
	return fmt.Sprintf("TRD-%d", GenID())
}

// JobID 生成撮合批次 ID
func JobID() string {
	return fmt.Sprintf("JOB-%d", GenID())
}
