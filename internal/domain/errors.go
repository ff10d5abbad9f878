package domain

import "errors"

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrSlugEmpty       = errors.New("room slug empty")
	ErrSlugTooLong     = errors.New("room slug too long")

	ErrRoomFull            = errors.New("room full")
	ErrParticipantNotFound = errors.New("participant not found")
)
