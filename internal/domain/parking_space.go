package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// ParkingSpace - trạng thái hiện tại của một chỗ đỗ vật lý (id 1..N).
// Occupied là nguồn sự thật duy nhất cho việc có được claim mã vào chỗ này hay không.
type ParkingSpace struct {
	ID        int       `json:"id"`
	Occupied  bool      `json:"occupied"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SpaceLog - lịch sử occupancy, append-only. Bản ghi occupied=true gần nhất
// trước một bản ghi occupied=false xác định thời lượng của phiên.
type SpaceLog struct {
	ID        int64     `json:"id"`
	SpaceID   int       `json:"space_id"`
	Occupied  bool      `json:"occupied"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
}

// DTO cho callback từ thiết bị (ESP32 gửi id_espacio/estado/timestamp).
// Estado là *bool để phân biệt false với thiếu/không phải boolean.
type SpaceReportDTO struct {
	IDEspacio int    `json:"id_espacio" binding:"required"`
	Estado    *bool  `json:"estado" binding:"required"`
	Timestamp string `json:"timestamp" binding:"required"`
}

// SpaceStateDTO - một entry trong danh sách trạng thái; space chưa từng báo cáo
// thì occupied=false và updated_at null.
type SpaceStateDTO struct {
	ID        int       `json:"id"`
	Occupied  bool      `json:"occupied"`
	UpdatedAt null.Time `json:"updated_at"`
}

type SpaceStats struct {
	OccupiedCount int `json:"occupied_count"`
	FreeCount     int `json:"free_count"`
}
