// Package anchor 抽象链上锚定账本：货币保证金的权威记录系统。
// 引擎只依赖这个窄接口，货币结算路径可以用假实现完整测试。
package anchor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DepositState 链上保证金的权威状态
type DepositState struct {
	Sender  common.Address // 零地址表示链上不存在该保证金
	Amount  *big.Int
	Expiry  uint64 // Unix 秒
	Settled bool   // 是否已释放，防止双重释放的唯一事实来源
}

// Exists 链上是否存在该保证金（合约用零地址作为"不存在"哨兵值）
func (s *DepositState) Exists() bool {
	return s.Sender != (common.Address{})
}

// ReleaseReceipt 释放交易回执
type ReleaseReceipt struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// Anchor 锚定账本接口
//
// 语义约定：
//   - GetDeposit 只读，不产生任何链上副作用
//   - Release 原子释放，合约保证同一 claimID 只能成功一次；
//     重复调用由合约拒绝，所以调用方重试是天然幂等的
//   - 两个方法的任何网络/超时错误都不代表链上状态已变化
type Anchor interface {
	GetDeposit(ctx context.Context, claimID common.Hash) (*DepositState, error)
	Release(ctx context.Context, claimID common.Hash, to common.Address) (*ReleaseReceipt, error)
}

// ClaimIDFromToken 由领取令牌推导确定性领取ID（与合约侧算法一致）
func ClaimIDFromToken(token string) common.Hash {
	return crypto.Keccak256Hash([]byte(token))
}
