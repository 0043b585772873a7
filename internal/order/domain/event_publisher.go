package domain

import "context"

// EventPublisher 深度事件下发接口。发布尽力而为，失败不回滚业务操作。
type EventPublisher interface {
	PublishDepth(ctx context.Context, symbol string, bids, asks []DepthLevel) error
}
