package handler

import (
	"errors"
	"strconv"
	"time"

	"attnbond/internal/anchor"
	"attnbond/internal/config"
	"attnbond/internal/job"
	"attnbond/internal/model"
	"attnbond/internal/repository"
	"attnbond/internal/service"
	"attnbond/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	balanceService *service.BalanceService
	bondService    *service.BondService
	claimService   *service.ClaimService
	sweeper        *job.ExpirySweeper
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, anc anchor.Anchor, cfg *config.Config) *Handler {
	bondService := service.NewBondService(db, rdb, cfg)
	return &Handler{
		balanceService: service.NewBalanceService(db, cfg),
		bondService:    bondService,
		claimService:   service.NewClaimService(db, cfg, anc),
		sweeper:        job.NewExpirySweeper(db, bondService, cfg),
	}
}

// businessError 把服务层错误翻译成统一业务码
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeInsufficientFunds, err.Error())
	case errors.Is(err, repository.ErrDuplicateBond), errors.Is(err, repository.ErrDuplicateClaim):
		response.BusinessError(c, response.CodeDuplicateBond, err.Error())
	case errors.Is(err, repository.ErrAlreadySettled):
		response.BusinessError(c, response.CodeAlreadySettled, err.Error())
	case errors.Is(err, repository.ErrBondNotFound),
		errors.Is(err, repository.ErrDepositNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrNotFoundOnChain):
		response.BusinessError(c, response.CodeNotFoundOnChain, err.Error())
	case errors.Is(err, service.ErrClaimExpired):
		response.BusinessError(c, response.CodeExpired, err.Error())
	case errors.Is(err, service.ErrOnChainFailure):
		response.BusinessError(c, response.CodeOnChainFailure, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询账户余额
// GET /api/v1/account/balance?handle=xxx
//
// 纯查询：账户只在首次债券活动时懒创建，这里查不到就是查不到，
// 绝不顺手建账户发赠点
func (h *Handler) GetBalance(c *gin.Context) {
	handle := c.Query("handle")
	if handle == "" {
		response.ParamError(c, "handle 参数不能为空")
		return
	}

	account, err := h.balanceService.GetAccount(c.Request.Context(), handle)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"handle":       account.Handle,
		"balance":      account.Balance,
		"daily_earned": account.DailyEarned,
		"last_reset":   account.LastReset,
	})
}

// ListTransactions 查询点数流水
// GET /api/v1/account/transactions?handle=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	handle := c.Query("handle")
	if handle == "" {
		response.ParamError(c, "handle 参数不能为空")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.balanceService.ListTransactions(c.Request.Context(), handle, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 白名单相关接口
// ============================================================

// AddContactRequest 加白名单请求
type AddContactRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Handle string `json:"handle" binding:"required"`
}

// AddContact 加入白名单
// POST /api/v1/contact/add
func (h *Handler) AddContact(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.bondService.AddContact(c.Request.Context(), req.Owner, req.Handle); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "已加入白名单"})
}

// ListContacts 查询白名单
// GET /api/v1/contact/list?owner=xxx
func (h *Handler) ListContacts(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		response.ParamError(c, "owner 参数不能为空")
		return
	}

	contacts, err := h.bondService.ListContacts(c.Request.Context(), owner)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"list": contacts})
}

// ============================================================
// 债券相关接口
// ============================================================

// OpenBondRequest 开立债券请求
type OpenBondRequest struct {
	MessageID  string `json:"message_id" binding:"required"` // 邮件唯一ID，同时是幂等ID
	Sender     string `json:"sender" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	SenderAddr string `json:"sender_addr"` // 空表示凭据未关联可消费账户
}

// OpenBond 开立债券（邮件发送前调用）
// POST /api/v1/bond/open
//
// 【关键点】质押失败不是发送失败：余额不足或无可消费账户时
// 返回 staked=false，上游照常投递邮件
func (h *Handler) OpenBond(c *gin.Context) {
	var req OpenBondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.bondService.OpenForMessage(c.Request.Context(), &service.OpenBondRequest{
		MessageID:  req.MessageID,
		Sender:     req.Sender,
		Recipient:  req.Recipient,
		SenderAddr: req.SenderAddr,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// resolveBond 统一的结算入口
func (h *Handler) resolveBond(c *gin.Context, outcome string) {
	var req struct {
		MessageID string `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	bond, err := h.bondService.Resolve(c.Request.Context(), req.MessageID, outcome)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, bond)
}

// ReadBond 收件人阅读回执（债券退还发件人）
// POST /api/v1/bond/read
func (h *Handler) ReadBond(c *gin.Context) {
	h.resolveBond(c, model.BondOutcomeRead)
}

// RejectBond 收件人明确拒绝（债券补偿收件人）
// POST /api/v1/bond/reject
func (h *Handler) RejectBond(c *gin.Context) {
	h.resolveBond(c, model.BondOutcomeRejected)
}

// ReplyBonusRequest 回复奖励请求
type ReplyBonusRequest struct {
	ThreadID  string `json:"thread_id" binding:"required"`
	Sender    string `json:"sender" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}

// ReplyBonus 会话内回复奖励（由邮件传输方检测到首次回复时调用）
// POST /api/v1/bond/reply-bonus
func (h *Handler) ReplyBonus(c *gin.Context) {
	var req ReplyBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.bondService.ReplyBonus(c.Request.Context(), req.ThreadID, req.Sender, req.Recipient)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "奖励已发放"})
}

// GetBond 查询债券详情
// GET /api/v1/bond/detail?message_id=xxx
func (h *Handler) GetBond(c *gin.Context) {
	messageID := c.Query("message_id")
	if messageID == "" {
		response.ParamError(c, "message_id 参数不能为空")
		return
	}

	bond, err := h.bondService.GetBond(c.Request.Context(), messageID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, bond)
}

// ============================================================
// 链上保证金相关接口
// ============================================================

// CreateClaimRequest 登记保证金请求
type CreateClaimRequest struct {
	ClaimToken   string `json:"claim_token"`
	ClaimID      string `json:"claim_id"`
	Sender       string `json:"sender" binding:"required"`
	RecipientRef string `json:"recipient_ref" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	Currency     string `json:"currency" binding:"required"`
	ExpiresAt    int64  `json:"expires_at" binding:"required"` // Unix 秒
	DepositTxRef string `json:"deposit_tx_ref"`
}

// CreateClaim 登记一笔已上链的保证金
// POST /api/v1/claim/create
func (h *Handler) CreateClaim(c *gin.Context) {
	var req CreateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deposit, err := h.claimService.CreateClaim(c.Request.Context(), &service.CreateClaimRequest{
		ClaimToken:   req.ClaimToken,
		ClaimID:      req.ClaimID,
		Sender:       req.Sender,
		RecipientRef: req.RecipientRef,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ExpiresAt:    time.Unix(req.ExpiresAt, 0),
		DepositTxRef: req.DepositTxRef,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, deposit)
}

// ExecuteClaimRequest 领取保证金请求
type ExecuteClaimRequest struct {
	ClaimID string `json:"claim_id" binding:"required"`
	Claimer string `json:"claimer" binding:"required"` // 领取人链上地址
}

// ExecuteClaim 领取保证金
// POST /api/v1/claim/execute
//
// 【关键点】链上失败（CodeOnChainFailure）可以安全重试：
// 合约拒绝二次释放，第一次如果实际成功了，重试会拿到 CodeAlreadySettled
func (h *Handler) ExecuteClaim(c *gin.Context) {
	var req ExecuteClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.claimService.Claim(c.Request.Context(), req.ClaimID, req.Claimer)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// GetDeposit 查询保证金详情
// GET /api/v1/claim/detail?claim_id=xxx
func (h *Handler) GetDeposit(c *gin.Context) {
	claimID := c.Query("claim_id")
	if claimID == "" {
		response.ParamError(c, "claim_id 参数不能为空")
		return
	}

	deposit, err := h.claimService.GetDeposit(c.Request.Context(), claimID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, deposit)
}

// ============================================================
// 清扫相关接口
// ============================================================

// Sweep 外部调度器触发一轮过期清扫
// POST /api/v1/sweep
func (h *Handler) Sweep(c *gin.Context) {
	bondsSettled, depositsExpired := h.sweeper.SweepOnce(c.Request.Context())
	response.Success(c, gin.H{
		"bonds_settled":    bondsSettled,
		"deposits_expired": depositsExpired,
	})
}
