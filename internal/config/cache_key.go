package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// DefinitionKey returns the cache key for an assessment definition
func (r *CacheKeyStruct) DefinitionKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:definition", assessmentID)
}

// AttemptIntegrityCountKey returns the counter of integrity events of an attempt
func (r *CacheKeyStruct) AttemptIntegrityCountKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:integrity_count", attemptID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel name for an assessment monitor
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

// AttemptChannel returns the Redis PubSub channel carrying one attempt's events
func (r *CacheKeyStruct) AttemptChannel(attemptID string) string {
	return fmt.Sprintf("attempt:%s:events", attemptID)
}

// RateLimitKey returns the fixed-window counter of a caller
func (r *CacheKeyStruct) RateLimitKey(subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", subject, window)
}

var CacheKey = NewCacheKeyStruct()
