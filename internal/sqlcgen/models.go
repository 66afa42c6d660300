package sqlcgen

import "time"

type Device struct {
	ID                string
	Name              string
	DeviceType        string
	FirmwareVersion   *string
	CurrentFirmwareID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Firmware struct {
	ID         string
	Version    string
	Name       string
	DeviceType string
	Critical   bool
	ReleasedAt time.Time
}

type FirmwareUpdate struct {
	ID            string
	DeviceID      string
	FirmwareID    string
	TargetVersion string
	Status        string
	JobID         *string
	ErrorMessage  *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

type FirmwareBatchUpdate struct {
	ID                string
	Name              string
	FirmwareID        string
	Status            string
	TotalDevices      int32
	SuccessfulDevices int32
	FailedDevices     int32
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

type UpdateLog struct {
	UpdateID string
	Level    string
	Message  string
}

type Vulnerability struct {
	ID          string
	DeviceID    string
	Title       string
	Severity    string
	Remediation string
}
