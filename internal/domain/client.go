package domain

// ClientID is the stable logical identity of a participant. It
// survives reconnection; the connection id (sid) does not.
type ClientID string

// ClientRecord is one logical participant. Records are created on the
// first successful handshake and never deleted: a gone client is
// soft-disconnected so its history can drive reconnection decisions.
type ClientRecord struct {
	ID         ClientID `json:"id"`
	SID        string   `json:"sid"`
	Admin      bool     `json:"admin"`
	ClientType string   `json:"clientType"`

	Connected    bool `json:"connected"`
	Disconnected bool `json:"disconnected"`

	// Snapshot taken at disconnect time, before anything else can
	// overwrite the live values.
	DisconnectedStage      string `json:"disconnectedStage,omitempty"`
	DisconnectedStageLevel int    `json:"disconnectedStageLevel,omitempty"`

	Stage      string `json:"stage,omitempty"`
	StageLevel int    `json:"stageLevel,omitempty"`

	AllowReconnect bool `json:"allowReconnect"`

	// Custom holds decorator-added fields. The decorator may only
	// write here; ID/SID/Admin/ClientType are fixed.
	Custom map[string]any `json:"custom,omitempty"`
}

func NewClientRecord(id ClientID, admin bool) *ClientRecord {
	return &ClientRecord{
		ID:             id,
		Admin:          admin,
		AllowReconnect: true,
		Custom:         make(map[string]any),
	}
}

// HasHistory reports whether the record has ever been through a
// connect or disconnect, i.e. whether reconnection is a possibility.
func (c ClientRecord) HasHistory() bool {
	return c.Connected || c.Disconnected
}
