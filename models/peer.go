package models

// Peer identifies the remote device an engine callback refers to.
type Peer struct {
	IP         string `json:"peer_ip"`
	ID         string `json:"peer_id"`
	DeviceName string `json:"device_name,omitempty"`
	Platform   string `json:"platform,omitempty"`
}

// Label returns the most human-readable identity available.
func (p Peer) Label() string {
	switch {
	case p.DeviceName != "":
		return p.DeviceName
	case p.ID != "":
		return p.ID
	default:
		return p.IP
	}
}
