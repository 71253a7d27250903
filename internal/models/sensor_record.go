package models

import "time"

// ManualClassificationReason 操作员手动分类记录的 reason
const ManualClassificationReason = "Manual classification"

// SensorRecord 传感器记录（sensor_data 表，只追加）
type SensorRecord struct {
	ID              int64     `json:"id,omitempty" db:"id"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	Temperature     float64   `json:"temperature" db:"temp"`
	Humidity        float64   `json:"humidity" db:"humid"`
	RainReading     int       `json:"rain_reading" db:"rain_val"`
	ClassifiedSound string    `json:"classified_sound" db:"sound_class"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	WindowStatus    string    `json:"window_status" db:"win_stat"`
	HeatStatus      string    `json:"heat_status" db:"heat_stat"`
	CoolStatus      string    `json:"cool_status" db:"cool_stat"`
	Reason          string    `json:"reason" db:"reason"`
	AlertBit        int       `json:"alert_bit" db:"trash_alert"`
}

// NewSensorRecord 遥测帧 → 传感器记录，时间戳使用网关接收时间（设备没有可靠时钟）
func NewSensorRecord(frame TelemetryFrame, receivedAt time.Time) SensorRecord {
	return SensorRecord{
		Timestamp:       receivedAt,
		Temperature:     frame.Temp,
		Humidity:        frame.Humid,
		RainReading:     frame.Rain,
		ClassifiedSound: frame.Sound,
		Confidence:      frame.Conf,
		WindowStatus:    frame.WinStat,
		HeatStatus:      frame.HeatStat,
		CoolStatus:      frame.CoolStat,
		Reason:          frame.Reason,
		AlertBit:        int(frame.TrashAlert),
	}
}

// IsClassified 是否识别出了有意义的声音
func IsClassified(sound string) bool {
	return sound != "" && sound != "Noise" && sound != "Unknown"
}

// IsEvent 下雨或识别出声音
func IsEvent(rec SensorRecord, rainThreshold int) bool {
	return rec.RainReading < rainThreshold || IsClassified(rec.ClassifiedSound)
}
