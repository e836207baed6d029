package domain

import "encoding/json"

// GenericIoTEvent dùng để parse bước đầu, lấy message_type và các trường chung
// mà IoT Rule thêm vào trước khi đẩy sang SQS.
type GenericIoTEvent struct {
	DeviceID          string          `json:"device_id"`
	MessageType       string          `json:"message_type"`
	Timestamp         string          `json:"timestamp"`
	ReceivedMqttTopic string          `json:"received_mqtt_topic,omitempty"`
	ClientIDFromIoT   string          `json:"client_id_iot,omitempty"`
	RawPayload        json.RawMessage `json:"-"`
}

// DeviceSpaceStatusEvent - ESP32 báo trạng thái một chỗ đỗ (message_type "space_status").
type DeviceSpaceStatusEvent struct {
	GenericIoTEvent
	IDEspacio int   `json:"id_espacio"`
	Estado    *bool `json:"estado"`
}

// ServoCommandPayload - lệnh nhả khóa gửi xuống ESP32 qua message queue.
type ServoCommandPayload struct {
	Action    string `json:"action"`
	Value     int    `json:"value"`
	CodigoID  string `json:"codigo_id"`
	RequestID string `json:"request_id,omitempty"`
}
