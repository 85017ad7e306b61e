package domain

import "errors"

var (
	ErrNotJoined         = errors.New("not joined")
	ErrRoomNotFound      = errors.New("room not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
	ErrCannotConsume     = errors.New("cannot consume")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrWorkerFatal       = errors.New("media worker fatal")
	ErrUserNotFound      = errors.New("user not found")
)
