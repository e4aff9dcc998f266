package store

import "bianzi/internal/model"

type Store interface {
	SaveBank(bank model.WordBank) error
	GetBank(grade int) (model.WordBank, bool, error)
	DeleteBank(grade int) error

	SetPreference(key string, value string) error
	GetPreference(key string) (string, bool, error)

	PutImage(image model.ImageBlob) error
	GetImage(word string) (model.ImageBlob, bool, error)

	SaveSession(session model.GameSession) error
	GetSession(id string) (model.GameSession, bool, error)
	UpdateSession(session model.GameSession) error
}
