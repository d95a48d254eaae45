package handler

import (
	"attnbond/internal/anchor"
	"attnbond/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, anc anchor.Anchor, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, anc, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
		}

		// 白名单相关
		contact := api.Group("/contact")
		{
			contact.POST("/add", h.AddContact)
			contact.GET("/list", h.ListContacts)
		}

		// 债券相关
		bond := api.Group("/bond")
		{
			bond.POST("/open", h.OpenBond)
			bond.POST("/read", h.ReadBond)
			bond.POST("/reject", h.RejectBond)
			bond.POST("/reply-bonus", h.ReplyBonus)
			bond.GET("/detail", h.GetBond)
		}

		// 链上保证金相关
		claim := api.Group("/claim")
		{
			claim.POST("/create", h.CreateClaim)
			claim.POST("/execute", h.ExecuteClaim)
			claim.GET("/detail", h.GetDeposit)
		}

		// 外部调度器触发清扫
		api.POST("/sweep", h.Sweep)
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
