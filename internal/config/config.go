package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string

	AWSRegion        string
	SQSEventQueueURL string

	RabbitURL      string
	ServoQueueName string
	ServoMinAmount float64

	JWTSecret          string
	JWTExpirationHours time.Duration

	// Tham số nghiệp vụ cho vòng đời mã và tính phí
	TotalSpaces        int
	WaitingTimeout     time.Duration // WAITING quá hạn -> EXPIRED
	PaymentGrace       time.Duration // PENDING quá hạn -> mã CLAIMED bị thu hồi
	SweepInterval      time.Duration
	RatePerInterval    float64 // giá cho mỗi block 15 phút
	MinCharge          float64 // phí sàn cho mọi phiên đã kết thúc
	Currency           string
	RateLimitWindow    time.Duration
	RateLimitMax       int
}

func Load() *Config {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Cảnh báo: Không thể tải file .env: %v", err)
	}

	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	jwtExpHours, _ := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "24"))

	totalSpaces, _ := strconv.Atoi(getEnv("TOTAL_SPACES", "3"))
	waitingMinutes, _ := strconv.Atoi(getEnv("WAITING_TIMEOUT_MINUTES", "30"))
	graceMinutes, _ := strconv.Atoi(getEnv("PAYMENT_GRACE_MINUTES", "60"))
	sweepMinutes, _ := strconv.Atoi(getEnv("SWEEP_INTERVAL_MINUTES", "1"))
	ratePerInterval, _ := strconv.ParseFloat(getEnv("RATE_PER_INTERVAL", "5"), 64)
	minCharge, _ := strconv.ParseFloat(getEnv("MIN_CHARGE", "5"), 64)
	servoMinAmount, _ := strconv.ParseFloat(getEnv("SERVO_MIN_AMOUNT", "0"), 64)
	rlWindowMs, _ := strconv.Atoi(getEnv("RATE_LIMIT_WINDOW_MS", "60000"))
	rlMax, _ := strconv.Atoi(getEnv("RATE_LIMIT_MAX", "60"))

	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "parking"),
		DBPassword: getEnv("DB_PASSWORD", "parking"),
		DBName:     getEnv("DB_NAME", "parking_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		SQSEventQueueURL: getEnv("SQS_EVENT_QUEUE_URL", ""),

		RabbitURL:      getEnv("RABBITMQ_URL", ""),
		ServoQueueName: getEnv("SERVO_QUEUE_NAME", "esp32_servo"),
		ServoMinAmount: servoMinAmount,

		JWTSecret:          getEnv("JWT_SECRET", "change-me-in-production"),
		JWTExpirationHours: time.Duration(jwtExpHours) * time.Hour,

		TotalSpaces:     totalSpaces,
		WaitingTimeout:  time.Duration(waitingMinutes) * time.Minute,
		PaymentGrace:    time.Duration(graceMinutes) * time.Minute,
		SweepInterval:   time.Duration(sweepMinutes) * time.Minute,
		RatePerInterval: ratePerInterval,
		MinCharge:       minCharge,
		Currency:        getEnv("CURRENCY", "MXN"),
		RateLimitWindow: time.Duration(rlWindowMs) * time.Millisecond,
		RateLimitMax:    rlMax,
	}
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Biến môi trường '%s' không được đặt, sử dụng giá trị mặc định: '%s'", key, fallback)
	return fallback
}
