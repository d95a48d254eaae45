package job

import (
	"context"
	"errors"
	"log"
	"time"

	"attnbond/internal/config"
	"attnbond/internal/model"
	"attnbond/internal/repository"
	"attnbond/internal/service"

	"gorm.io/gorm"
)

// ExpirySweeper 过期清扫任务
//
// 定期找出已过响应窗口仍在 PENDING 的债券/保证金：
//   - 债券走正常结算路径 Resolve(TIMEOUT)，和收件人拒绝同一套守恒逻辑
//   - 保证金只做本地 EXPIRED 标记，链上退款走独立的人工发起流程，
//     清扫任务绝不自动动链上资金
//
// 多实例并发运行是安全的：结算路径的条件更新保证每张债券最多结算一次，
// 撞车的一方拿到 ErrAlreadySettled，当作无事发生
type ExpirySweeper struct {
	db          *gorm.DB
	bondService *service.BondService
	bondRepo    *repository.BondRepository
	depositRepo *repository.DepositRepository
	cfg         *config.Config
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewExpirySweeper(db *gorm.DB, bondService *service.BondService, cfg *config.Config) *ExpirySweeper {
	interval := time.Duration(cfg.Business.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	batchSize := cfg.Business.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &ExpirySweeper{
		db:          db,
		bondService: bondService,
		bondRepo:    repository.NewBondRepository(db),
		depositRepo: repository.NewDepositRepository(db),
		cfg:         cfg,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   batchSize,
	}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	log.Println("[ExpirySweeper] 过期清扫任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirySweeper] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[ExpirySweeper] 任务停止")
			return
		case <-ticker.C:
			bonds, deposits := s.SweepOnce(ctx)
			if bonds > 0 || deposits > 0 {
				log.Printf("[ExpirySweeper] 本轮清扫: 债券结算 %d 张, 保证金过期 %d 笔", bonds, deposits)
			}
		}
	}
}

func (s *ExpirySweeper) Stop() {
	close(s.stopCh)
}

// SweepOnce 执行一轮清扫，返回本轮结算的债券数和标记过期的保证金数
// 也是外部调度器（定时任务）的调用入口
//
// 【隔离】单张债券/单笔保证金的失败只记日志，不中断本轮其余条目
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (bondsSettled, depositsExpired int) {
	now := time.Now()

	bonds, err := s.bondRepo.GetExpiredPending(ctx, now, s.batchSize)
	if err != nil {
		log.Printf("[ExpirySweeper] 查询过期债券失败: %v", err)
	} else {
		for _, bond := range bonds {
			_, err := s.bondService.Resolve(ctx, bond.MessageID, model.BondOutcomeTimeout)
			if err != nil {
				// 并发清扫或收件人抢先结算：无事发生
				if errors.Is(err, repository.ErrAlreadySettled) {
					continue
				}
				log.Printf("[ExpirySweeper] 债券超时结算失败: messageID=%s, err=%v", bond.MessageID, err)
				continue
			}
			bondsSettled++
		}
	}

	deposits, err := s.depositRepo.GetExpiredPending(ctx, now, s.batchSize)
	if err != nil {
		log.Printf("[ExpirySweeper] 查询过期保证金失败: %v", err)
	} else {
		for _, deposit := range deposits {
			err := s.depositRepo.MarkExpired(ctx, nil, deposit.ClaimID)
			if err != nil {
				if errors.Is(err, repository.ErrAlreadySettled) {
					continue
				}
				log.Printf("[ExpirySweeper] 保证金标记过期失败: claimID=%s, err=%v", deposit.ClaimID, err)
				continue
			}
			depositsExpired++
			log.Printf("[ExpirySweeper] 保证金已过期，等待人工退款: claimID=%s, sender=%s", deposit.ClaimID, deposit.Sender)
		}
	}

	return bondsSettled, depositsExpired
}
