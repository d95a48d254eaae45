package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"attnbond/internal/config"
	"attnbond/internal/infrastructure/lock"
	"attnbond/internal/model"
	"attnbond/internal/repository"
	"attnbond/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 零质押的跳过原因
const (
	SkipReasonSelfSend     = "self_send"            // 自己发给自己
	SkipReasonNoAccount    = "no_spendable_account" // 凭据未关联可消费账户
	SkipReasonInsufficient = "insufficient_balance" // 余额不足，静默降级
)

// BondService 债券台账 + 结算引擎
//
// 开立：决定质押档位 -> 扣点 -> 落债券（PENDING）
// 结算：收件人行为或超时 -> 条件翻状态 -> 按守恒规则分配点数
//
// 【不变量】质押失败永远不能阻塞邮件发送本身——扣不了点就降级为零质押，
// 返回结果里带 Staked=false 供上游标注，绝不向调用方抛错
type BondService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	balanceService  *BalanceService
	bondRepo        *repository.BondRepository
	transactionRepo *repository.TransactionRepository
	contactRepo     *repository.ContactRepository
	outboxRepo      *repository.OutboxRepository
}

// NewBondService 创建债券服务
// redisClient 为 nil 时跳过分布式锁（本地/单测环境）
func NewBondService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *BondService {
	return &BondService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		balanceService:  NewBalanceService(db, cfg),
		bondRepo:        repository.NewBondRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		contactRepo:     repository.NewContactRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

type OpenBondRequest struct {
	MessageID  string // 邮件唯一ID
	Sender     string // 发件人 handle
	Recipient  string // 收件人 handle
	SenderAddr string // 发件人链上地址，空串表示凭据未关联可消费账户
}

type OpenBondResult struct {
	Bond       *model.Bond `json:"bond,omitempty"`
	Staked     bool        `json:"staked"`
	Tier       string      `json:"tier"`
	SkipReason string      `json:"skip_reason,omitempty"`
}

// OpenForMessage 为一封外发邮件开立债券
//
// 档位策略：
//   - 自发自收 -> 不质押
//   - 凭据无可消费账户 -> 完全跳过质押机制
//   - 收件人在白名单 / 双方已有会话 -> REPLY 档（小额）
//   - 其他 -> COLD 档（大额）
//   - 余额不足 -> 静默降级为零质押，邮件照发
func (s *BondService) OpenForMessage(ctx context.Context, req *OpenBondRequest) (*OpenBondResult, error) {
	// 幂等校验：同一封邮件只能有一张债券
	existing, err := s.bondRepo.GetByMessageID(ctx, req.MessageID)
	if err != nil && !errors.Is(err, repository.ErrBondNotFound) {
		return nil, fmt.Errorf("查询债券失败: %w", err)
	}
	if existing != nil {
		return nil, repository.ErrDuplicateBond
	}

	// 凭据未关联可消费账户：整个质押机制跳过，不建账户不落债券
	if req.SenderAddr == "" {
		return &OpenBondResult{Staked: false, Tier: model.BondTierZero, SkipReason: SkipReasonNoAccount}, nil
	}

	// 自发自收：落一张零额债券留审计，但不质押
	if req.Sender == req.Recipient {
		bond, err := s.createZeroBond(ctx, req, model.BondTierSelf)
		if err != nil {
			return nil, err
		}
		return &OpenBondResult{Bond: bond, Staked: false, Tier: model.BondTierSelf, SkipReason: SkipReasonSelfSend}, nil
	}

	// 双方账户懒创建（首次活动送注册赠点）
	if _, err := s.balanceService.Ensure(ctx, req.Sender); err != nil {
		return nil, fmt.Errorf("创建发件人账户失败: %w", err)
	}
	if _, err := s.balanceService.Ensure(ctx, req.Recipient); err != nil {
		return nil, fmt.Errorf("创建收件人账户失败: %w", err)
	}

	tier, stake, err := s.computeTier(ctx, req.Sender, req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("计算质押档位失败: %w", err)
	}

	// 同一发件人的开立请求串行化，避免档位判定和扣点之间被并发插队
	if s.redisClient != nil {
		stakeLock := lock.NewStakeLock(s.redisClient, req.Sender, req.MessageID)
		if err := stakeLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer stakeLock.Unlock(ctx)
	}

	account, err := s.balanceService.GetAccount(ctx, req.Sender)
	if err != nil {
		return nil, fmt.Errorf("获取发件人账户失败: %w", err)
	}

	// 余额不足：静默降级为零质押，发送动作绝不因此失败
	if account.Balance < stake {
		bond, err := s.createZeroBond(ctx, req, model.BondTierZero)
		if err != nil {
			return nil, err
		}
		return &OpenBondResult{Bond: bond, Staked: false, Tier: model.BondTierZero, SkipReason: SkipReasonInsufficient}, nil
	}

	bond := &model.Bond{
		BondNo:    idgen.GenerateBondNo(),
		MessageID: req.MessageID,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Amount:    stake,
		Tier:      tier,
		Status:    model.BondStatusPending,
		Deadline:  time.Now().Add(s.cfg.Business.ResponseWindow()),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.bondRepo.Create(ctx, tx, bond); err != nil {
			return err
		}
		if err := s.balanceService.Debit(ctx, tx, account, stake, model.ReasonStake, req.MessageID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateBond) {
			return nil, repository.ErrDuplicateBond
		}
		// 锁内判定过余额仍然扣失败（极端并发或版本冲突）：降级，不阻塞发送
		if errors.Is(err, repository.ErrInsufficientFunds) || errors.Is(err, repository.ErrOptimisticLock) {
			log.Printf("[BondService] 扣点失败降级为零质押: messageID=%s, sender=%s, err=%v", req.MessageID, req.Sender, err)
			bond, zerr := s.createZeroBond(ctx, req, model.BondTierZero)
			if zerr != nil {
				return nil, zerr
			}
			return &OpenBondResult{Bond: bond, Staked: false, Tier: model.BondTierZero, SkipReason: SkipReasonInsufficient}, nil
		}
		return nil, fmt.Errorf("开立债券失败: %w", err)
	}

	log.Printf("[BondService] 债券开立成功: messageID=%s, sender=%s, recipient=%s, tier=%s, amount=%d",
		req.MessageID, req.Sender, req.Recipient, tier, stake)

	return &OpenBondResult{Bond: bond, Staked: true, Tier: tier}, nil
}

// computeTier 判定质押档位
func (s *BondService) computeTier(ctx context.Context, sender, recipient string) (string, int64, error) {
	// 白名单直接按会话档
	inList, err := s.contactRepo.Exists(ctx, sender, recipient)
	if err != nil {
		return "", 0, err
	}
	if inList {
		return model.BondTierReply, s.cfg.Business.ReplyStake, nil
	}

	// 对方先给我发过债券 -> 已有会话
	hasInbound, err := s.bondRepo.HasInbound(ctx, recipient, sender)
	if err != nil {
		return "", 0, err
	}
	if hasInbound {
		return model.BondTierReply, s.cfg.Business.ReplyStake, nil
	}

	return model.BondTierCold, s.cfg.Business.ColdStake, nil
}

// createZeroBond 零额债券：创建即进入终态 REFUNDED，不产生任何流水
// （什么都没扣，自然也没有什么可退）
func (s *BondService) createZeroBond(ctx context.Context, req *OpenBondRequest, tier string) (*model.Bond, error) {
	bond := &model.Bond{
		BondNo:    idgen.GenerateBondNo(),
		MessageID: req.MessageID,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Amount:    0,
		Tier:      tier,
		Status:    model.BondStatusRefunded,
		Deadline:  time.Now().Add(s.cfg.Business.ResponseWindow()),
	}
	if err := s.bondRepo.Create(ctx, nil, bond); err != nil {
		return nil, err
	}
	return bond, nil
}

// Resolve 结算一张债券
//
// outcome 取值见 model.BondOutcome*：
//   - READ：全额退还发件人（不计收益，不碰每日上限）
//   - REJECTED / TIMEOUT：补偿收件人，超出收件人每日上限的部分回退发件人
//
// 【守恒】无论上限状态如何，capped + (amount - capped) == amount，
// 点数只会在双方之间转移，永远不会凭空产生或消失
//
// 【幂等】同一债券第二次 Resolve 在条件更新处拿到 0 行，
// 返回 ErrAlreadySettled 且不产生任何余额变动
func (s *BondService) Resolve(ctx context.Context, messageID string, outcome string) (*model.Bond, error) {
	targetStatus, err := outcomeTargetStatus(outcome)
	if err != nil {
		return nil, err
	}

	bond, err := s.bondRepo.GetByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	// 终态提前拦截（真正的护栏是下面的条件更新，这里只是省一次事务）
	if bond.Status != model.BondStatusPending {
		return nil, repository.ErrAlreadySettled
	}

	var compensated, refunded int64

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 条件翻状态：并发 Resolve 只有一个能赢
		if err := s.bondRepo.UpdateStatus(ctx, tx, messageID, model.BondStatusPending, targetStatus); err != nil {
			return err
		}

		if bond.Amount > 0 {
			switch outcome {
			case model.BondOutcomeRead:
				// 注意力已给付：全额退还发件人
				refunded = bond.Amount
				if err := s.balanceService.Credit(ctx, tx, bond.Sender, bond.Amount, model.ReasonRefund, messageID); err != nil {
					return fmt.Errorf("退还质押失败: %w", err)
				}
			default:
				// 拒绝/超时：补偿收件人，受每日收益上限约束
				remaining, err := s.balanceService.RemainingDailyCap(ctx, tx, bond.Recipient)
				if err != nil {
					return fmt.Errorf("读取收益上限失败: %w", err)
				}

				compensated = bond.Amount
				if compensated > remaining {
					compensated = remaining
				}
				refunded = bond.Amount - compensated

				if compensated > 0 {
					if err := s.balanceService.Credit(ctx, tx, bond.Recipient, compensated, model.ReasonCompensation, messageID); err != nil {
						return fmt.Errorf("补偿收件人失败: %w", err)
					}
				}
				if refunded > 0 {
					// 超出上限的部分回退发件人，绝不丢弃
					if err := s.balanceService.Credit(ctx, tx, bond.Sender, refunded, model.ReasonCapOverflowRefund, messageID); err != nil {
						return fmt.Errorf("回退超限部分失败: %w", err)
					}
				}
			}
		}

		return s.writeSettledEvent(ctx, tx, bond, outcome, targetStatus, compensated, refunded)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[BondService] 债券结算完成: messageID=%s, outcome=%s, status=%s, compensated=%d, refunded=%d",
		messageID, outcome, targetStatus, compensated, refunded)

	bond.Status = targetStatus
	return bond, nil
}

func outcomeTargetStatus(outcome string) (string, error) {
	switch outcome {
	case model.BondOutcomeRead:
		return model.BondStatusRefunded, nil
	case model.BondOutcomeRejected:
		return model.BondStatusTransferred, nil
	case model.BondOutcomeTimeout:
		return model.BondStatusExpired, nil
	default:
		return "", fmt.Errorf("未知的结算动因: %s", outcome)
	}
}

// writeSettledEvent 结算事件随结算事务一起落发件箱
func (s *BondService) writeSettledEvent(ctx context.Context, tx *gorm.DB, bond *model.Bond, outcome, status string, compensated, refunded int64) error {
	msgPayload := map[string]interface{}{
		"bond_no":     bond.BondNo,
		"message_id":  bond.MessageID,
		"sender":      bond.Sender,
		"recipient":   bond.Recipient,
		"amount":      bond.Amount,
		"outcome":     outcome,
		"status":      status,
		"compensated": compensated,
		"refunded":    refunded,
		"settled_at":  time.Now().Format(time.RFC3339),
	}
	payloadBytes, _ := json.Marshal(msgPayload)

	outboxMsg := &model.OutboxMessage{
		MessageKey: bond.MessageID,
		Topic:      s.cfg.Kafka.Topic.BondSettled,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
		return fmt.Errorf("写入结算事件失败: %w", err)
	}
	return nil
}

// ReplyBonus 回复奖励：检测到会话内回复时，双方各得固定奖励
//
// 上游（邮件传输方）负责判定"这是一条会话内的首次回复"；引擎侧再按
// threadID 做一层去重兜底，同一会话第二次调用返回 ErrAlreadySettled。
// 奖励是增发出来的点数，没有付款方，超出每日上限的部分直接不发（截断）
func (s *BondService) ReplyBonus(ctx context.Context, threadID, sender, recipient string) error {
	if s.redisClient != nil {
		bonusLock := lock.NewDistributedLock(s.redisClient,
			fmt.Sprintf("bond:lock:reply:%s", threadID), threadID, 30*time.Second)
		if err := bonusLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
			return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
		}
		defer bonusLock.Unlock(ctx)
	}

	// 去重：该会话已经发过奖励
	existing, err := s.transactionRepo.GetByReasonAndRefID(ctx, model.ReasonReplyBonus, threadID)
	if err != nil {
		return fmt.Errorf("查询奖励流水失败: %w", err)
	}
	if existing != nil {
		return repository.ErrAlreadySettled
	}

	if _, err := s.balanceService.Ensure(ctx, sender); err != nil {
		return err
	}
	if _, err := s.balanceService.Ensure(ctx, recipient); err != nil {
		return err
	}

	bonus := s.cfg.Business.ReplyBonus

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, handle := range []string{sender, recipient} {
			remaining, err := s.balanceService.RemainingDailyCap(ctx, tx, handle)
			if err != nil {
				return err
			}
			grant := bonus
			if grant > remaining {
				grant = remaining
			}
			// grant 允许为 0：被上限完全截断时也落一条零额流水，
			// 充当该会话的去重标记（否则窗口复位后同一会话还能再领）
			if err := s.balanceService.Credit(ctx, tx, handle, grant, model.ReasonReplyBonus, threadID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BondService) GetBond(ctx context.Context, messageID string) (*model.Bond, error) {
	return s.bondRepo.GetByMessageID(ctx, messageID)
}

// AddContact 把收件人加入发件人白名单（白名单内按会话档位质押）
func (s *BondService) AddContact(ctx context.Context, owner, handle string) error {
	return s.contactRepo.Add(ctx, owner, handle)
}

func (s *BondService) ListContacts(ctx context.Context, owner string) ([]*model.Contact, error) {
	return s.contactRepo.ListByOwner(ctx, owner)
}
