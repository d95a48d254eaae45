package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"attnbond/internal/anchor"
	"attnbond/internal/config"
	"attnbond/internal/model"
	"attnbond/internal/repository"
	"attnbond/pkg/idgen"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

var (
	ErrClaimExpired    = errors.New("保证金已过期")
	ErrNotFoundOnChain = errors.New("链上不存在该保证金")
	ErrOnChainFailure  = errors.New("链上操作失败，可安全重试")
)

// ClaimService 链上保证金领取流程
//
// 【权威模型】保证金的结算事实以链上托管合约为准，本地行只是缓存+审计。
// 本地状态只在链上 release 确认成功之后才翻成 CLAIMED；链上调用期间
// 不持有任何本地锁（等确认可能要几十秒）。货币路径与点数账本完全隔离，
// 领取流程绝不读写 Account 表。
type ClaimService struct {
	db          *gorm.DB
	cfg         *config.Config
	depositRepo *repository.DepositRepository
	outboxRepo  *repository.OutboxRepository
	anchor      anchor.Anchor
}

func NewClaimService(db *gorm.DB, cfg *config.Config, anc anchor.Anchor) *ClaimService {
	return &ClaimService{
		db:          db,
		cfg:         cfg,
		depositRepo: repository.NewDepositRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		anchor:      anc,
	}
}

type CreateClaimRequest struct {
	ClaimToken   string // 领取令牌，claimID = keccak256(token)
	ClaimID      string // 令牌缺省时直接给定领取ID（0x 开头）
	Sender       string // 存入方链上地址
	RecipientRef string // 预期领取人（地址或邮箱）
	Amount       string // 十进制字符串
	Currency     string
	ExpiresAt    time.Time
	DepositTxRef string // 存入交易哈希（链上确认已在调用前完成）
}

// CreateClaim 登记一笔已在链上存入的保证金
// 调用前提：存入交易已经由外部流程提交并确认，这里只落本地镜像
func (s *ClaimService) CreateClaim(ctx context.Context, req *CreateClaimRequest) (*model.Deposit, error) {
	claimID := req.ClaimID
	if req.ClaimToken != "" {
		claimID = anchor.ClaimIDFromToken(req.ClaimToken).Hex()
	}
	if claimID == "" {
		return nil, errors.New("claim_token 和 claim_id 至少提供一个")
	}

	deposit := &model.Deposit{
		ClaimNo:      idgen.GenerateClaimNo(),
		ClaimID:      claimID,
		Sender:       req.Sender,
		RecipientRef: req.RecipientRef,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       model.DepositStatusPending,
		ExpiresAt:    req.ExpiresAt,
		DepositTxRef: req.DepositTxRef,
	}

	if err := s.depositRepo.Create(ctx, nil, deposit); err != nil {
		return nil, err
	}

	log.Printf("[ClaimService] 保证金登记成功: claimID=%s, sender=%s, amount=%s %s",
		claimID, req.Sender, req.Amount, req.Currency)
	return deposit, nil
}

type ClaimResult struct {
	ClaimID       string `json:"claim_id"`
	ClaimerRef    string `json:"claimer_ref"`
	SettlementRef string `json:"settlement_ref"`
	BlockNumber   uint64 `json:"block_number"`
}

// Claim 领取保证金
//
// 流程（顺序即安全性）：
//  1. 本地校验：存在性 / 终态 / 过期（过期顺手把本地状态翻成 EXPIRED）
//  2. 链上校验：合约里的 settled 标志是防双重释放的唯一事实来源，
//     本地缓存过期也拦不住它
//  3. 链上释放：失败或超时只返回 ErrOnChainFailure，本地保持 PENDING，
//     重试安全（合约拒绝二次释放）
//  4. 确认成功后才落本地 CLAIMED + 回执事件（一次性，随同一事务）
func (s *ClaimService) Claim(ctx context.Context, claimID, claimer string) (*ClaimResult, error) {
	deposit, err := s.depositRepo.GetByClaimID(ctx, claimID)
	if err != nil {
		return nil, err
	}

	switch deposit.Status {
	case model.DepositStatusClaimed:
		return nil, repository.ErrAlreadySettled
	case model.DepositStatusExpired:
		return nil, ErrClaimExpired
	}

	if !time.Now().Before(deposit.ExpiresAt) {
		// 过期领取：翻本地状态，绝不再碰链上 release
		if err := s.depositRepo.MarkExpired(ctx, nil, claimID); err != nil &&
			!errors.Is(err, repository.ErrAlreadySettled) {
			return nil, err
		}
		return nil, ErrClaimExpired
	}

	// 链上权威校验
	id := common.HexToHash(claimID)
	state, err := s.anchor.GetDeposit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOnChainFailure, err)
	}
	if !state.Exists() {
		return nil, ErrNotFoundOnChain
	}
	if state.Settled {
		return nil, repository.ErrAlreadySettled
	}

	// 原子释放；期间不持有任何本地锁
	receipt, err := s.anchor.Release(ctx, id, common.HexToAddress(claimer))
	if err != nil {
		// 失败后复查一次 settled 标志：并发领取的输家在这里拿到准确的
		// "已被领取"而不是笼统的链上失败
		if state, qerr := s.anchor.GetDeposit(ctx, id); qerr == nil && state.Settled {
			return nil, repository.ErrAlreadySettled
		}
		return nil, fmt.Errorf("%w: %v", ErrOnChainFailure, err)
	}

	settlementRef := receipt.TxHash.Hex()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.depositRepo.MarkClaimed(ctx, tx, claimID, claimer, settlementRef); err != nil {
			if !errors.Is(err, repository.ErrAlreadySettled) {
				return err
			}
			// 链上释放已确认成功，PENDING 却翻不动：等待确认期间清扫任务
			// 把行标成了 EXPIRED。链上事实优先，覆盖本地镜像，回执照常发
			if err := s.depositRepo.ReconcileClaimed(ctx, tx, claimID, claimer, settlementRef); err != nil {
				return err
			}
			log.Printf("[ClaimService] 本地镜像已修复: claimID=%s, EXPIRED 覆盖为 CLAIMED", claimID)
		}
		return s.writeClaimReceipt(ctx, tx, deposit, claimer, settlementRef)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[ClaimService] 保证金领取成功: claimID=%s, claimer=%s, tx=%s", claimID, claimer, settlementRef)

	return &ClaimResult{
		ClaimID:       claimID,
		ClaimerRef:    claimer,
		SettlementRef: settlementRef,
		BlockNumber:   receipt.BlockNumber,
	}, nil
}

// writeClaimReceipt 领取回执随落库事务一起写入发件箱，保证只发一次
func (s *ClaimService) writeClaimReceipt(ctx context.Context, tx *gorm.DB, deposit *model.Deposit, claimer, settlementRef string) error {
	msgPayload := map[string]interface{}{
		"claim_no":       deposit.ClaimNo,
		"claim_id":       deposit.ClaimID,
		"sender":         deposit.Sender,
		"recipient_ref":  deposit.RecipientRef,
		"amount":         deposit.Amount,
		"currency":       deposit.Currency,
		"claimer_ref":    claimer,
		"settlement_ref": settlementRef,
		"claimed_at":     time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(msgPayload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: deposit.ClaimID,
		Topic:      s.cfg.Kafka.Topic.ClaimResult,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入领取回执失败: %w", err)
	}
	return nil
}

func (s *ClaimService) GetDeposit(ctx context.Context, claimID string) (*model.Deposit, error) {
	return s.depositRepo.GetByClaimID(ctx, claimID)
}
