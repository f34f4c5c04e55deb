package redisrepo

import "fmt"

const ns = "seathold:v1"

func KeyBlockSnapshot(eventID, blockID int64) string {
	return fmt.Sprintf("%s:event:%d:block:%d:snapshot", ns, eventID, blockID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelBlocksChanged() string {
	return ns + ":blocks:changed"
}
