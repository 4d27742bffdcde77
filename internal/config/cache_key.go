package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TermDescendantsKey returns the cache key for a term's descendant id set
func (r *CacheKeyStruct) TermDescendantsKey(taxonomy string, termID int64) string {
	return fmt.Sprintf("term:%s:%d:descendants", taxonomy, termID)
}

// TermLineageKey returns the cache key for a term's lineage (self to root)
func (r *CacheKeyStruct) TermLineageKey(termID int64) string {
	return fmt.Sprintf("term:%d:lineage", termID)
}

// AnswerKeyHash returns the hash holding question id -> correct option id
func (r *CacheKeyStruct) AnswerKeyHash() string {
	return "question:answer_key"
}

// SessionClockKey returns the cache key for a mock session's deadline (unix seconds)
func (r *CacheKeyStruct) SessionClockKey(sessionID string) string {
	return fmt.Sprintf("practice:%s:deadline", sessionID)
}

var CacheKey = NewCacheKeyStruct()
