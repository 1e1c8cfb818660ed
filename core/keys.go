package core

import "strconv"

// 缓存 key 前缀
const (
	ProfileKeyPrefix = "profile:"
	CompatKeyPrefix  = "compat:"
	MatchesKeyPrefix = "matches:"
)

// ProfileKey 返回画像缓存 key。
func ProfileKey(userID string) string {
	return ProfileKeyPrefix + userID
}

// MatchesKey 返回排序结果缓存 key。
func MatchesKey(userID string) string {
	return MatchesKeyPrefix + userID
}

// CanonicalPair 按字典序返回 (lo, hi)。
func CanonicalPair(a, b string) (lo, hi string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey 返回无序用户对的匹配度缓存 key：compat:{len(lo)}:{lo}:{hi}。
// 较小 id 带长度前缀，id 中包含 ':' 也不会与其他用户对冲突。
func PairKey(a, b string) string {
	lo, hi := CanonicalPair(a, b)
	return CompatKeyPrefix + strconv.Itoa(len(lo)) + ":" + lo + ":" + hi
}
