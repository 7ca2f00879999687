package domain

// Account is a registered user identity. ID is zero until the store assigns one.
type Account struct {
	ID       int    `json:"account_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Message is a piece of user-authored content.
// PostedBy, ID and TimePostedEpoch never change after creation; only MessageText is mutable.
type Message struct {
	ID              int    `json:"message_id"`
	PostedBy        int    `json:"posted_by"`
	MessageText     string `json:"message_text"`
	TimePostedEpoch int64  `json:"time_posted_epoch"`
}
