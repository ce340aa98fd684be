package models

// Session binds a connected peer to a player identity and, optionally, a
// lobby. It exists while the peer is connected; on disconnect it is
// archived under ReconnectToken for up to 120s (reconnect window itself is
// 60s — see internal/session).
type Session struct {
	PlayerID       string `json:"playerId"`
	LobbyID        string `json:"lobbyId,omitempty"`
	IsSpectator    bool   `json:"isSpectator"`
	ReconnectToken string `json:"reconnectToken"`
	UserID         string `json:"userId,omitempty"`
}

// ArchivedSession is what survives a disconnect, keyed by ReconnectToken.
type ArchivedSession struct {
	PlayerID    string `json:"playerId"`
	LobbyID     string `json:"lobbyId,omitempty"`
	IsSpectator bool   `json:"isSpectator"`
	LastSeen    int64  `json:"lastSeen"`
}
