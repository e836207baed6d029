package domain

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

type CodeStatus string

const (
	CodeWaiting CodeStatus = "WAITING"
	CodeClaimed CodeStatus = "CLAIMED"
	CodeExpired CodeStatus = "EXPIRED"
)

// ParkingCode là mã một lần gắn phiên đỗ xe với một chỗ đỗ.
// Tên cột giữ nguyên theo schema gốc (codigo, fecha_*).
type ParkingCode struct {
	Codigo             string     `json:"codigo"`
	Status             CodeStatus `json:"status"`
	SpaceID            null.Int   `json:"space_id"`
	FechaCreacion      time.Time  `json:"fecha_creacion"`
	FechaActualizacion time.Time  `json:"fecha_actualizacion"`
}

// DTO cho API nhập mã thủ công (UI gửi mã đã sinh sẵn)
type SubmitCodeDTO struct {
	Codigo string `json:"codigo" binding:"required"`
}

// DTO cho API gắn mã vào chỗ đỗ. Caller chọn rõ biến thể request
// (claim hay đổi trạng thái), không suy luận từ field nào có mặt.
type ClaimCodeDTO struct {
	Codigo  string `json:"codigo" binding:"required"`
	SpaceID int    `json:"space_id" binding:"required"`
}

type ChangeCodeStatusDTO struct {
	Codigo string `json:"codigo" binding:"required"`
	Status string `json:"status" binding:"required,oneof=WAITING CLAIMED EXPIRED"`
	// Force chỉ dành cho admin: bỏ qua các ràng buộc chuyển trạng thái để sửa dữ liệu.
	Force bool `json:"force,omitempty"`
}

type CodeFilterDTO struct {
	Status  *string `form:"status"`
	Q       *string `form:"q"`
	SpaceID *int    `form:"space_id"`
	Sort    string  `form:"sort,default=fecha_creacion"`
	Order   string  `form:"order,default=desc"`
}
