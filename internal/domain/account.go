package domain

// Credential is the opaque login material of an account. The core only checks
// whether something usable is present; the transport interprets it.
type Credential struct {
	APIID         int    `json:"api_id,omitempty"`
	APIHash       string `json:"api_hash,omitempty"`
	Phone         string `json:"phone,omitempty"`
	BotToken      string `json:"bot_token,omitempty"`
	SessionString string `json:"session_string,omitempty"`
}

// Usable reports whether the credential can be used without an interactive
// login step.
func (c Credential) Usable() bool {
	return c.BotToken != "" || c.SessionString != ""
}

// Account is one independently-authenticated messaging identity, as read from
// the account registry.
type Account struct {
	Name       string
	Enabled    bool
	RoutesFile string
	Credential Credential
}
