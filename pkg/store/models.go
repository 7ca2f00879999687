package store

import "github.com/anaparv/anaparv-pep-project/pkg/domain"

// GORM models used for persistence. Table and column names match the
// schema the service has always shipped with.
type AccountModel struct {
	ID       int    `gorm:"column:account_id;primaryKey;autoIncrement"`
	Username string `gorm:"column:username;type:varchar(255);uniqueIndex;not null"`
	Password string `gorm:"column:password;type:varchar(255);not null"`
}

func (AccountModel) TableName() string { return "account" }

type MessageModel struct {
	ID              int    `gorm:"column:message_id;primaryKey;autoIncrement"`
	PostedBy        int    `gorm:"column:posted_by;not null;index"`
	MessageText     string `gorm:"column:message_text;type:varchar(255);not null"`
	TimePostedEpoch int64  `gorm:"column:time_posted_epoch;not null"`
}

func (MessageModel) TableName() string { return "message" }

func accountFromModel(m AccountModel) domain.Account {
	return domain.Account{
		ID:       m.ID,
		Username: m.Username,
		Password: m.Password,
	}
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:              m.ID,
		PostedBy:        m.PostedBy,
		MessageText:     m.MessageText,
		TimePostedEpoch: m.TimePostedEpoch,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:              m.ID,
		PostedBy:        m.PostedBy,
		MessageText:     m.MessageText,
		TimePostedEpoch: m.TimePostedEpoch,
	}
}

func messagesFromModels(models []MessageModel) []domain.Message {
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res
}
