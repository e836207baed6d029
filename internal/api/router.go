package api

import (
	"github.com/gin-gonic/gin"

	"github.com/JebGy/parkingiot/internal/api/handler"
	"github.com/JebGy/parkingiot/internal/api/middleware"
	"github.com/JebGy/parkingiot/internal/ratelimit"
	"github.com/JebGy/parkingiot/internal/service"
)

func SetupRouter(
	as *service.AuthService,
	cs *service.CodeService,
	ss *service.SpaceService,
	ps *service.PaymentService,
	auds *service.AuditService,
	authMw *middleware.AuthMiddleware,
	rlStore *ratelimit.Store,
	wsManager *handler.WebSocketManager,
) *gin.Engine {
	r := gin.Default()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// WebSocket endpoint (không cần auth cho real-time connection)
	wsHandler := handler.NewWebSocketHandler(wsManager)
	r.GET("/ws", wsHandler.HandleWebSocket)

	authHandler := handler.NewAuthHandler(as)
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}

	codeH := handler.NewCodeHandler(cs)
	spaceH := handler.NewSpaceHandler(ss)
	paymentH := handler.NewPaymentHandler(ps)
	auditH := handler.NewAuditHandler(auds)

	// Các endpoint cho cảm biến/kiosk không đăng nhập: chỉ rate limit theo IP
	device := r.Group("/api/v1")
	device.Use(middleware.RateLimit(rlStore))
	{
		device.POST("/spaces/update", spaceH.ReportOccupancy)
		device.POST("/codes", codeH.SubmitCode)
	}

	v1 := r.Group("/api/v1")
	v1.Use(authMw.Authenticate())
	{
		codeRoutes := v1.Group("/codes")
		{
			codeRoutes.GET("", codeH.ListCodes)
			codeRoutes.PATCH("/claim", codeH.ClaimCode)
			codeRoutes.PATCH("/status", codeH.ChangeStatus)
		}

		spaceRoutes := v1.Group("/spaces")
		{
			spaceRoutes.GET("", spaceH.ListSpaces)
			spaceRoutes.POST("/seed", authMw.AuthorizeRole("admin"), spaceH.SeedSpaces)
		}

		paymentRoutes := v1.Group("/payments")
		{
			paymentRoutes.GET("", paymentH.ListPayments)
			paymentRoutes.PATCH("", paymentH.ConfirmPayment)
		}

		// Callback trạng thái từ máy thu tiền: có JWT nhưng vẫn giữ rate limit
		v1.PATCH("/codigos/:codigo_id/estado", middleware.RateLimit(rlStore), paymentH.CodeStatusCallback)

		v1.GET("/stats", spaceH.Stats)
		v1.GET("/audit", authMw.AuthorizeRole("admin"), auditH.ListAudit)
	}

	return r
}
