package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyKind       = "kind"
	KeyStage      = "stage"
	KeyPass       = "pass"
	KeyPath       = "path"
	KeyCommit     = "commit"
	KeyCacheKey   = "cache_key"
	KeyDurationMS = "duration_ms"
	KeyEntry      = "entry"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Kind(k string) slog.Attr         { return slog.String(KeyKind, k) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Pass(n int) slog.Attr            { return slog.Int(KeyPass, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Commit(c string) slog.Attr       { return slog.String(KeyCommit, c) }
func CacheKey(k string) slog.Attr     { return slog.String(KeyCacheKey, k) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Entry(e string) slog.Attr        { return slog.String(KeyEntry, e) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
