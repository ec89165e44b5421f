package service

import "math"

// Quota decides how many items one synchronizer invocation may attempt.
type Quota interface {
	// ItemsPerInvocation 单次调用的条目上限
	ItemsPerInvocation() int
	// DailyCap 每日条目上限，0 表示不限
	DailyCap() int
}

// TokenBucketQuota 令牌桶来源（buy box）的预算
// items = floor(tokensPerMinute × windowMinutes × itemsPerToken × safetyFactor)
type TokenBucketQuota struct {
	TokensPerMinute float64
	WindowMinutes   float64
	ItemsPerToken   float64
	SafetyFactor    float64
}

func (q TokenBucketQuota) ItemsPerInvocation() int {
	perToken := q.ItemsPerToken
	if perToken <= 0 {
		perToken = 1
	}
	safety := q.SafetyFactor
	if safety <= 0 || safety > 1 {
		safety = 1
	}
	n := math.Floor(q.TokensPerMinute * q.WindowMinutes * perToken * safety)
	if n < 0 {
		return 0
	}
	return int(n)
}

func (q TokenBucketQuota) DailyCap() int { return 0 }

// FixedQuota 固定单次预算 + 每日上限
type FixedQuota struct {
	PerInvocation int
	Cap           int
}

func (q FixedQuota) ItemsPerInvocation() int {
	if q.PerInvocation < 0 {
		return 0
	}
	return q.PerInvocation
}

func (q FixedQuota) DailyCap() int {
	if q.Cap < 0 {
		return 0
	}
	return q.Cap
}

// Budget bounds the quota by what is left of the day.
func Budget(q Quota, remaining int) int {
	if remaining <= 0 {
		return 0
	}
	n := q.ItemsPerInvocation()
	if n > remaining {
		return remaining
	}
	return n
}

// DayTotal applies the daily cap to the number of due items.
func DayTotal(q Quota, due int) int {
	if c := q.DailyCap(); c > 0 && due > c {
		return c
	}
	return due
}
