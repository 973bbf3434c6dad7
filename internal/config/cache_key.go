package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// TestPayloadKey returns the cache key for a test with its questions
func (r *CacheKeyStruct) TestPayloadKey(testID string) string {
	return fmt.Sprintf("test:%s:payload", testID)
}

// SubmissionAnswersKey returns the cache key for a submission's buffered answers
func (r *CacheKeyStruct) SubmissionAnswersKey(submissionID string) string {
	return fmt.Sprintf("submission:%s:answers", submissionID)
}

var CacheKey = NewCacheKeyStruct()
