package wire

import "encoding/json"

// CommandPayload is the vendor's command schema:
// {"11":"REQ_TH"|"REQ_LIVE","12":{...},"35":controllerNumber,"36":channelZone}.
// Field names are the vendor's numeric string keys; we give them
// meaningful Go names and tag them explicitly rather than carrying a
// map[string]any through the rest of the engine.
type CommandPayload struct {
	Request          string         `json:"11"`
	Data             map[string]any `json:"12"`
	ControllerNumber int            `json:"35"`
	ChannelZone      int            `json:"36"`
}

const (
	RequestTH   = "REQ_TH"
	RequestLive = "REQ_LIVE"
)

// Marshal renders the command payload exactly as the vendor expects it.
func (c CommandPayload) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// LiveDataRequest builds the two-shot EMU/DIDO live-data poll payload:
// {"11":"REQ_LIVE","12":{"DATA":1 or 0},"35":0,"36":0}.
func LiveDataRequest(dataFlag int) CommandPayload {
	return CommandPayload{
		Request: RequestLive,
		Data:    map[string]any{"DATA": dataFlag},
	}
}

// ReferentialRequest is the referential dictionary request payload:
// {"ID": email, "data": {}, "sso": true, "token": accessToken}.
type ReferentialRequest struct {
	ID    string         `json:"ID"`
	Data  map[string]any `json:"data"`
	SSO   bool           `json:"sso"`
	Token string         `json:"token"`
}

// Marshal renders the referential request exactly as the vendor expects it.
func (r ReferentialRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func NewReferentialRequest(email, accessToken string) ReferentialRequest {
	return ReferentialRequest{ID: email, Data: map[string]any{}, SSO: true, Token: accessToken}
}
