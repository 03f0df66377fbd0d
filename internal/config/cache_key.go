package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionDraftsKey returns the hash holding a session's mirrored drafts,
// one field per question id.
func (r *CacheKeyStruct) SessionDraftsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:drafts", sessionID)
}

// SessionMonitorChannel returns the Redis PubSub channel carrying a session's
// journal events.
func (r *CacheKeyStruct) SessionMonitorChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:monitor", sessionID)
}

var CacheKey = NewCacheKeyStruct()
