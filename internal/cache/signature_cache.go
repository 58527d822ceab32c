// Package cache holds the thinking-signature cache that lets the
// integrity layer re-attach a signature to a thinking block the client
// echoes back on a later turn, without the upstream having to resign it.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// SignatureEntry holds a cached thinking signature with the time it was
// inserted, used both for TTL expiry and for oldest-first eviction once a
// group's cache is at capacity.
type SignatureEntry struct {
	Signature  string
	InsertedAt time.Time
}

const (
	// SignatureCacheTTL is how long a cached signature remains valid.
	SignatureCacheTTL = 2 * time.Hour

	// SignatureTextHashLen is the length of the hash key (16 hex chars = 64-bit key space).
	SignatureTextHashLen = 16

	// SignaturePrefixLen bounds the text prefix used for the secondary
	// lookup key, so a signature can still be found when the client
	// truncates or re-wraps trailing text on replay.
	SignaturePrefixLen = 500

	// MinValidSignatureLen is the minimum length for a signature to be considered valid.
	MinValidSignatureLen = 50

	// MaxEntriesPerGroup caps how many signatures a model group's cache
	// holds at once; the oldest entry by InsertedAt is evicted to make
	// room for a new one once the cap is reached.
	MaxEntriesPerGroup = 500

	// CacheCleanupInterval controls how often stale entries are purged.
	CacheCleanupInterval = 10 * time.Minute
)

// signatureCache stores signatures by model group -> textHash -> SignatureEntry.
var signatureCache sync.Map

// cacheCleanupOnce ensures the background cleanup goroutine starts only once.
var cacheCleanupOnce sync.Once

// groupCache is the inner map type. Entries are stored once, keyed by the
// full-content hash; prefixIndex maps the first-N-character hash to the
// same full-content hash so a signature can be found by either key.
type groupCache struct {
	mu          sync.RWMutex
	entries     map[string]SignatureEntry
	prefixIndex map[string]string
}

// hashText creates a stable, Unicode-safe key from text content.
func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])[:SignatureTextHashLen]
}

// prefixHash hashes only the first SignaturePrefixLen characters of text.
func prefixHash(text string) string {
	runes := []rune(text)
	if len(runes) > SignaturePrefixLen {
		runes = runes[:SignaturePrefixLen]
	}
	return hashText(string(runes))
}

func getOrCreateGroupCache(groupKey string) *groupCache {
	cacheCleanupOnce.Do(startCacheCleanup)

	if val, ok := signatureCache.Load(groupKey); ok {
		return val.(*groupCache)
	}
	sc := &groupCache{
		entries:     make(map[string]SignatureEntry),
		prefixIndex: make(map[string]string),
	}
	actual, _ := signatureCache.LoadOrStore(groupKey, sc)
	return actual.(*groupCache)
}

func startCacheCleanup() {
	go func() {
		ticker := time.NewTicker(CacheCleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			purgeExpiredCaches()
		}
	}()
}

func purgeExpiredCaches() {
	now := time.Now()
	signatureCache.Range(func(key, value any) bool {
		sc := value.(*groupCache)
		sc.mu.Lock()
		for hash, entry := range sc.entries {
			if now.Sub(entry.InsertedAt) > SignatureCacheTTL {
				delete(sc.entries, hash)
			}
		}
		for prefix, fullHash := range sc.prefixIndex {
			if _, ok := sc.entries[fullHash]; !ok {
				delete(sc.prefixIndex, prefix)
			}
		}
		isEmpty := len(sc.entries) == 0
		sc.mu.Unlock()
		if isEmpty {
			signatureCache.Delete(key)
		}
		return true
	})
}

// evictOldestLocked removes the entry with the smallest InsertedAt. Callers
// must hold sc.mu for writing.
func evictOldestLocked(sc *groupCache) {
	var oldestHash string
	var oldestAt time.Time
	for hash, entry := range sc.entries {
		if oldestHash == "" || entry.InsertedAt.Before(oldestAt) {
			oldestHash = hash
			oldestAt = entry.InsertedAt
		}
	}
	if oldestHash == "" {
		return
	}
	delete(sc.entries, oldestHash)
	for prefix, fullHash := range sc.prefixIndex {
		if fullHash == oldestHash {
			delete(sc.prefixIndex, prefix)
		}
	}
}

// CacheSignature stores a thinking signature for a given model group and
// text, indexed by both the full-content hash and the text's prefix hash.
func CacheSignature(modelName, text, signature string) {
	if text == "" || signature == "" {
		return
	}
	if len(signature) < MinValidSignatureLen {
		return
	}

	groupKey := GetModelGroup(modelName)
	fullHash := hashText(text)
	pHash := prefixHash(text)
	sc := getOrCreateGroupCache(groupKey)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, exists := sc.entries[fullHash]; !exists && len(sc.entries) >= MaxEntriesPerGroup {
		evictOldestLocked(sc)
	}
	sc.entries[fullHash] = SignatureEntry{
		Signature:  signature,
		InsertedAt: time.Now(),
	}
	sc.prefixIndex[pHash] = fullHash
}

// GetCachedSignature retrieves a cached signature for a given model group
// and text. It first tries the full-content hash, then falls back to the
// prefix hash, so a signature survives minor trailing edits a client makes
// before replaying a thinking block. Returns empty string if not found or
// expired.
func GetCachedSignature(modelName, text string) string {
	groupKey := GetModelGroup(modelName)
	geminiFallback := ""
	if groupKey == "gemini" {
		geminiFallback = "skip_thought_signature_validator"
	}
	if text == "" {
		return geminiFallback
	}
	val, ok := signatureCache.Load(groupKey)
	if !ok {
		return geminiFallback
	}
	sc := val.(*groupCache)

	fullHash := hashText(text)
	now := time.Now()

	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, exists := sc.entries[fullHash]
	if !exists {
		if fh, okPrefix := sc.prefixIndex[prefixHash(text)]; okPrefix {
			entry, exists = sc.entries[fh]
			fullHash = fh
		}
	}
	if !exists {
		return geminiFallback
	}
	if now.Sub(entry.InsertedAt) > SignatureCacheTTL {
		delete(sc.entries, fullHash)
		return geminiFallback
	}
	return entry.Signature
}

// ClearSignatureCache clears signature cache for a specific model group or all groups.
func ClearSignatureCache(modelName string) {
	if modelName == "" {
		signatureCache.Range(func(key, _ any) bool {
			signatureCache.Delete(key)
			return true
		})
		return
	}
	groupKey := GetModelGroup(modelName)
	signatureCache.Delete(groupKey)
}

// HasValidSignature checks if a signature is valid (non-empty and long enough).
func HasValidSignature(modelName, signature string) bool {
	return (signature != "" && len(signature) >= MinValidSignatureLen) || (signature == "skip_thought_signature_validator" && GetModelGroup(modelName) == "gemini")
}

// GetModelGroup buckets a model name into one of the families the signature
// cache partitions by.
func GetModelGroup(modelName string) string {
	switch {
	case strings.Contains(modelName, "gpt"):
		return "gpt"
	case strings.Contains(modelName, "claude"):
		return "claude"
	case strings.Contains(modelName, "gemini"):
		return "gemini"
	default:
		return modelName
	}
}
