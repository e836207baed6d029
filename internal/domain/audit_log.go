package domain

import (
	"encoding/json"
	"time"

	"gopkg.in/guregu/null.v4"
)

// AuditLog - nhật ký hành động, chỉ ghi thêm, không bao giờ sửa.
// Ghi lỗi audit không được phép chặn nghiệp vụ chính.
type AuditLog struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UsuarioID null.String     `json:"usuario_id"`
	IP        string          `json:"ip"`
	Accion    string          `json:"accion"`
	Datos     json.RawMessage `json:"datos"`
	Codigo    null.String     `json:"codigo"`
}
