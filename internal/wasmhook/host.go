package wasmhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tetratelabs/wazero/api"
	"golang.org/x/time/rate"
)

const (
	// MaxLogSize is the maximum size of a single log message from hook
	// code (256 bytes).
	MaxLogSize = 256

	// LogRateLimit is the maximum number of log calls per second.
	LogRateLimit = 10

	// RegexTimeout bounds a single regex host call.
	RegexTimeout = 5 * time.Millisecond
)

// hostFunctions provides the host side of the plugin ABI: regex services
// (hook scripts frequently post-process field values), logging and a clock.
type hostFunctions struct {
	cache       *regexCache
	logger      *slog.Logger
	rateLimiter *rate.Limiter
}

func newHostFunctions(logger *slog.Logger) *hostFunctions {
	return &hostFunctions{
		cache:       newRegexCache(DefaultRegexCacheSize),
		logger:      logger,
		rateLimiter: rate.NewLimiter(LogRateLimit, LogRateLimit),
	}
}

// regexMatch implements the regex_match host function.
// Signature: (str_ptr, str_len, re_ptr, re_len) -> i32
// Returns 1 on match, 0 on no match or error.
func (h *hostFunctions) regexMatch(ctx context.Context, m api.Module, strPtr, strLen, rePtr, reLen uint32) uint32 {
	str, pattern, ok := h.readStringPair(m, strPtr, strLen, rePtr, reLen)
	if !ok {
		return 0
	}

	re, err := h.cache.Get(pattern)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("regex compilation failed", "pattern", pattern, "error", err)
		}
		return 0
	}

	matched, ok := h.withRegexTimeout(ctx, pattern, func() bool {
		return re.MatchString(str)
	})
	if ok && matched {
		return 1
	}
	return 0
}

// regexFindSubmatch implements the regex_find_submatch host function.
// Signature: (str_ptr, str_len, re_ptr, re_len, out_buf_ptr, out_buf_len) -> i32
// Writes the submatches as a JSON array. Returns bytes written, 0 if no
// match, 0xFFFFFFFF if the output buffer is too small.
func (h *hostFunctions) regexFindSubmatch(ctx context.Context, m api.Module, strPtr, strLen, rePtr, reLen, outBufPtr, outBufLen uint32) uint32 {
	str, pattern, ok := h.readStringPair(m, strPtr, strLen, rePtr, reLen)
	if !ok {
		return 0
	}

	re, err := h.cache.Get(pattern)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("regex compilation failed", "pattern", pattern, "error", err)
		}
		return 0
	}

	var matches []string
	_, ok = h.withRegexTimeout(ctx, pattern, func() bool {
		matches = re.FindStringSubmatch(str)
		return matches != nil
	})
	if !ok || matches == nil {
		return 0
	}

	jsonBytes, err := json.Marshal(matches)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal submatch results", "error", err)
		}
		return 0
	}
	if uint32(len(jsonBytes)) > outBufLen {
		return 0xFFFFFFFF
	}
	if !m.Memory().Write(outBufPtr, jsonBytes) {
		return 0
	}
	return uint32(len(jsonBytes))
}

func (h *hostFunctions) readStringPair(m api.Module, aPtr, aLen, bPtr, bLen uint32) (string, string, bool) {
	aBytes, ok := m.Memory().Read(aPtr, aLen)
	if !ok {
		return "", "", false
	}
	bBytes, ok := m.Memory().Read(bPtr, bLen)
	if !ok {
		return "", "", false
	}
	return string(aBytes), string(bBytes), true
}

// withRegexTimeout runs fn with a deadline. Go's regexp cannot be
// cancelled, but it is RE2-based (linear time) and the pattern length is
// capped, so a timed-out goroutine finishes soon after and gets collected.
func (h *hostFunctions) withRegexTimeout(ctx context.Context, pattern string, fn func() bool) (result, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, RegexTimeout)
	defer cancel()

	resultCh := make(chan bool, 1)
	go func() {
		resultCh <- fn()
	}()

	select {
	case r := <-resultCh:
		return r, true
	case <-ctx.Done():
		if h.logger != nil {
			h.logger.Warn("regex host call timeout", "pattern", pattern)
		}
		return false, false
	}
}

// log implements the log host function.
// Signature: (level, ptr, len). Levels: 0=debug, 1=info, 2=warn, 3=error.
func (h *hostFunctions) log(_ context.Context, m api.Module, level, ptr, msgLen uint32) {
	if !h.rateLimiter.Allow() {
		// Drop silently beyond the rate limit.
		return
	}

	truncated := false
	if msgLen > MaxLogSize {
		truncated = true
		msgLen = MaxLogSize
	}

	msgBytes, ok := m.Memory().Read(ptr, msgLen)
	if !ok {
		return
	}

	msg := strings.ToValidUTF8(string(msgBytes), "�")
	if truncated {
		msg += " [truncated]"
	}

	if h.logger == nil {
		return
	}
	switch level {
	case 0:
		h.logger.Debug("[hook] " + msg)
	case 1:
		h.logger.Info("[hook] " + msg)
	case 2:
		h.logger.Warn("[hook] " + msg)
	case 3:
		h.logger.Error("[hook] " + msg)
	default:
		h.logger.Info(fmt.Sprintf("[hook] (level=%d) %s", level, msg))
	}
}

// nowMs implements the now_ms host function.
// Signature: () -> i64, current Unix time in milliseconds.
func (h *hostFunctions) nowMs() int64 {
	return time.Now().UnixMilli()
}
