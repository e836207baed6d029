package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsgo_config "github.com/aws/aws-sdk-go-v2/config" // Alias để tránh trùng tên
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/JebGy/parkingiot/internal/api"
	"github.com/JebGy/parkingiot/internal/api/handler"
	"github.com/JebGy/parkingiot/internal/api/middleware"
	"github.com/JebGy/parkingiot/internal/config"
	"github.com/JebGy/parkingiot/internal/mq"
	"github.com/JebGy/parkingiot/internal/ratelimit"
	"github.com/JebGy/parkingiot/internal/repository/postgresql"
	"github.com/JebGy/parkingiot/internal/service"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	log.Println("Cấu hình đã được tải.")

	// 2. Setup Database Connection
	db, err := postgresql.NewDB(cfg)
	if err != nil {
		log.Fatalf("Không thể kết nối database: %v", err)
	}
	defer db.Close()
	log.Println("Đã kết nối database thành công!")

	// 3. Khởi tạo AWS SDK Config (cho SQS consumer)
	awsSDKCfg, err := awsgo_config.LoadDefaultConfig(context.TODO(), awsgo_config.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("Không thể tải AWS SDK config: %v", err)
	}
	sqsClient := sqs.NewFromConfig(awsSDKCfg)
	log.Println("Đã khởi tạo SQS client cho region:", cfg.AWSRegion)

	// 4. Khởi tạo publisher lệnh servo (RabbitMQ, kết nối lười)
	var servoPublisher service.ServoPublisher
	if cfg.RabbitURL == "" {
		log.Println("CẢNH BÁO: RABBITMQ_URL chưa được cấu hình. Lệnh servo sẽ không được gửi.")
	} else {
		rabbitPublisher := mq.NewRabbitServoPublisher(cfg.RabbitURL, cfg.ServoQueueName)
		defer rabbitPublisher.Close()
		servoPublisher = rabbitPublisher
	}

	// 5. Initialize Repositories
	userRepo := postgresql.NewPgUserRepository(db)
	codeRepo := postgresql.NewPgParkingCodeRepository(db)
	spaceRepo := postgresql.NewPgParkingSpaceRepository(db)
	spaceLogRepo := postgresql.NewPgSpaceLogRepository(db)
	paymentRepo := postgresql.NewPgPaymentRepository(db)
	auditRepo := postgresql.NewPgAuditLogRepository(db)

	// init websocket manager
	webSocketManager := handler.NewWebSocketManager()
	go webSocketManager.Start()
	log.Println("WebSocket Manager đã được khởi động.")

	// 6. Initialize Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpirationHours)
	auditService := service.NewAuditService(auditRepo)
	servoService := service.NewServoService(servoPublisher, cfg.ServoMinAmount)
	feeCalc := service.NewFeeCalculator(cfg.RatePerInterval, cfg.MinCharge)
	codeService := service.NewCodeService(codeRepo, spaceRepo, paymentRepo, auditService,
		cfg.TotalSpaces, cfg.WaitingTimeout, cfg.PaymentGrace)
	paymentService := service.NewPaymentService(paymentRepo, codeRepo, spaceRepo,
		auditService, servoService, webSocketManager, cfg.Currency)
	spaceService := service.NewSpaceService(spaceRepo, spaceLogRepo, codeRepo, paymentRepo,
		codeService, paymentService, feeCalc, auditService, webSocketManager, cfg.TotalSpaces)

	// 7. Initialize Middleware
	authMiddleware := middleware.NewAuthMiddleware(authService)
	rlStore := ratelimit.NewStore(cfg.RateLimitWindow, cfg.RateLimitMax)

	// 8. Khởi tạo và Chạy SQS Consumer
	var wg sync.WaitGroup
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())

	if cfg.SQSEventQueueURL == "" {
		log.Println("CẢNH BÁO: SQS_EVENT_QUEUE_URL chưa được cấu hình. SQS Consumer sẽ không chạy.")
	} else {
		sqsConsumer := mq.NewSQSConsumer(sqsClient, cfg, spaceService)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sqsConsumer.Start(consumerCtx)
			log.Println("SQS Consumer đã dừng.")
		}()
	}

	// start background job dọn mã quá hạn và bucket rate limit
	go startSweepJob(consumerCtx, codeService, rlStore, cfg.SweepInterval)

	// 9. Setup HTTP Router
	router := api.SetupRouter(authService, codeService, spaceService, paymentService,
		auditService, authMiddleware, rlStore, webSocketManager)

	// 10. Start HTTP Server
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server đang chạy trên port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Lỗi ListenAndServe(): %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Đang tắt server...")

	cancelConsumer()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server buộc phải tắt: %v", err)
	}

	if cfg.SQSEventQueueURL != "" {
		log.Println("Đang chờ SQS consumer dừng (tối đa 5 giây)...")
		c := make(chan struct{})
		go func() {
			defer close(c)
			wg.Wait()
		}()
		select {
		case <-c:
			log.Println("SQS consumer đã dừng hoàn toàn.")
		case <-time.After(5 * time.Second):
			log.Println("SQS consumer không dừng trong thời gian chờ.")
		}
	}

	log.Println("Server đã tắt.")
}

// startSweepJob định kỳ chuyển mã WAITING quá hạn sang EXPIRED, thu hồi mã
// CLAIMED chưa thanh toán quá ân hạn, và dọn bucket rate limit đã hết cửa sổ.
func startSweepJob(ctx context.Context, codeService *service.CodeService, rlStore *ratelimit.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := codeService.ExpireOldWaiting(sweepCtx); err != nil {
				log.Printf("Lỗi dọn mã WAITING quá hạn: %v", err)
			}
			if _, err := codeService.ExpireClaimedUnpaid(sweepCtx); err != nil {
				log.Printf("Lỗi thu hồi mã CLAIMED quá hạn thanh toán: %v", err)
			}
			rlStore.Cleanup()
			cancel()
		}
	}
}
