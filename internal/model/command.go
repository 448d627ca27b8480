package model

import "time"

// CommandType distinguishes the logical commands CommandEngine accepts.
type CommandType string

const (
	CommandMode        CommandType = "mode"
	CommandPreset      CommandType = "preset"
	CommandTemperature CommandType = "temperature"
	CommandRingLight   CommandType = "ring_light"
	CommandLock        CommandType = "lock"
)

// PendingCommand is a command that has been sent to the vendor and is
// awaiting confirmation. At most one exists per installation at a time.
type PendingCommand struct {
	ID        string
	InstallID InstallationID
	ZoneID    ZoneID
	ChannelID ChannelID // confirms regardless of which field the vendor update touches
	Type      CommandType
	Payload   map[string]any // numericKey -> value, exactly as sent on the wire
	SentAt    time.Time
	Retries   int
}
