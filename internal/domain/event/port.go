package event

type Broadcaster interface {
	Broadcast(msg Message) int
	SendToUser(userID int64, msg Message) bool
}
