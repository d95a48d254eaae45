package anchor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"attnbond/internal/config"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// 托管合约里引擎用到的两个方法：保证金查询视图 + 原子释放
const escrowABI = `[
	{"name":"deposits","type":"function","stateMutability":"view",
	 "inputs":[{"name":"claimId","type":"bytes32"}],
	 "outputs":[{"name":"sender","type":"address"},{"name":"amount","type":"uint256"},{"name":"expiry","type":"uint64"},{"name":"settled","type":"bool"}]},
	{"name":"release","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"claimId","type":"bytes32"},{"name":"to","type":"address"}],
	 "outputs":[]}
]`

var ErrReleaseReverted = errors.New("链上释放交易执行失败")

// EVMAnchor 基于 EVM 兼容链的锚定账本适配器
type EVMAnchor struct {
	client         *ethclient.Client
	contract       *bind.BoundContract
	auth           *bind.TransactOpts
	confirmTimeout time.Duration
}

// InitEVMAnchor 初始化链上适配器
func InitEVMAnchor(cfg *config.AnchorConfig) *EVMAnchor {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		log.Fatalf("连接链上 RPC 失败: %v", err)
	}

	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		log.Fatalf("解析托管合约 ABI 失败: %v", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		log.Fatalf("解析签名私钥失败: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		log.Fatalf("创建交易签名器失败: %v", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)

	log.Println("链上锚定账本适配器初始化成功")
	return &EVMAnchor{
		client:         client,
		contract:       contract,
		auth:           auth,
		confirmTimeout: cfg.ConfirmTimeout(),
	}
}

// GetDeposit 查询链上保证金的权威状态
func (a *EVMAnchor) GetDeposit(ctx context.Context, claimID common.Hash) (*DepositState, error) {
	var out []interface{}
	err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "deposits", claimID)
	if err != nil {
		return nil, fmt.Errorf("查询链上保证金失败: %w", err)
	}

	state := &DepositState{
		Sender:  *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Amount:  abi.ConvertType(out[1], new(big.Int)).(*big.Int),
		Expiry:  *abi.ConvertType(out[2], new(uint64)).(*uint64),
		Settled: *abi.ConvertType(out[3], new(bool)).(*bool),
	}
	return state, nil
}

// Release 提交释放交易并等待上链确认
//
// 【关键点】这里可能阻塞几十秒，调用方不得在等待期间持有任何本地锁。
// 超时或网络错误只说明"结果未知"，不说明释放失败——合约拒绝二次释放，
// 调用方可以放心重试。
func (a *EVMAnchor) Release(ctx context.Context, claimID common.Hash, to common.Address) (*ReleaseReceipt, error) {
	opts := *a.auth
	opts.Context = ctx

	tx, err := a.contract.Transact(&opts, "release", claimID, to)
	if err != nil {
		return nil, fmt.Errorf("提交释放交易失败: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, a.client, tx)
	if err != nil {
		return nil, fmt.Errorf("等待释放交易确认失败: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrReleaseReverted
	}

	return &ReleaseReceipt{
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}
