package types

// ChannelInfo describes one entry of the channel map.
type ChannelInfo struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Bits      []int    `json:"bits"`
	Addresses []string `json:"addresses"`
}

type ConveyorInfo struct {
	ID      string          `json:"id"`
	State   string          `json:"state"`
	Speed   int             `json:"speed"`
	Sensors map[string]bool `json:"sensors,omitempty"`
}

type SwitchInfo struct {
	ID       string          `json:"id"`
	Position string          `json:"position"`
	Sensors  map[string]bool `json:"sensors,omitempty"`
}

type SeparatorInfo struct {
	ID      string          `json:"id"`
	Sensors map[string]bool `json:"sensors,omitempty"`
}

type SensorValue struct {
	Device string `json:"device"`
	Kind   string `json:"kind"`
	Sensor string `json:"sensor"`
	Value  bool   `json:"value"`
}

type SpeedRequest struct {
	Speed *int `json:"speed" binding:"required"`
}

type PositionRequest struct {
	Position *int `json:"position" binding:"required"`
}

type TokenRequest struct {
	Client string `json:"client" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
}
