package core

import (
	"sort"
	"time"
)

// Candidate 是排序结果中的一项。
type Candidate struct {
	CandidateID string    `json:"candidate_id"`
	Score       float64   `json:"score"`
	ComputedAt  time.Time `json:"computed_at"`
}

// RankedList 是某个用户的排序结果，按分数严格降序（同分按 id 升序）。
// Candidates 只保留前若干项，Total 是计算时打分的候选总数。
type RankedList struct {
	UserID     string      `json:"user_id"`
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
	ComputedAt time.Time   `json:"computed_at"`
}

// Top 返回前 k 项的副本；k <= 0 或 k 超出长度时返回全部。
func (l *RankedList) Top(k int) []Candidate {
	if l == nil {
		return nil
	}
	n := len(l.Candidates)
	if k > 0 && k < n {
		n = k
	}
	out := make([]Candidate, n)
	copy(out, l.Candidates[:n])
	return out
}

// SortCandidates 原地排序：分数降序，同分按 CandidateID 升序。
// 结果只取决于 (id, score) 集合，与并发任务的完成顺序无关。
func SortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].CandidateID < cs[j].CandidateID
	})
}

// Truncate 截取前 n 项，n <= 0 不截断。
func Truncate(cs []Candidate, n int) []Candidate {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[:n]
}
