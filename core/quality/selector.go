// Package quality 根据音质档位与网络计费状态，从候选编码中挑选一个。
// 纯函数，不做任何 I/O。
package quality

import (
	"errors"
	"sort"

	"StreamResolve/model"
)

// ErrNoCandidate 候选集为空
var ErrNoCandidate = errors.New("quality: no candidate to select from")

// AutoMode 决定 Auto 档位如何处理计费网络
type AutoMode int

const (
	// AutoMeteredMedium 计费网络且开启节流策略时用中等音质，否则用 auto-max
	AutoMeteredMedium AutoMode = iota
	// AutoMeteredLowestLegacy 旧接口的语义：策略关闭且非计费网络才用 auto-max，否则用最低音质
	AutoMeteredLowestLegacy
	// AutoIgnoreMetering 不考虑计费网络，始终用 auto-max
	AutoIgnoreMetering
)

func (m AutoMode) String() string {
	switch m {
	case AutoMeteredLowestLegacy:
		return "metered-lowest-legacy"
	case AutoIgnoreMetering:
		return "ignore-metering"
	default:
		return "metered-medium"
	}
}

// MediumQualityLabel 解析源标注的中等音质
const MediumQualityLabel = "AUDIO_QUALITY_MEDIUM"

// Policy 某个解析源的选择策略
type Policy struct {
	Name string
	Auto AutoMode
	// AutoMaxTags 按优先级排列的格式标签，命中第一个即为 auto-max
	AutoMaxTags []int
	// MediumTags 解析源指定的中等音质标签
	MediumTags []int
}

// DefaultAutoMaxTags 常见音频 itag 的优先顺序：opus 160k > aac 256k > opus 70k > aac 128k > opus 50k > aac 48k
var DefaultAutoMaxTags = []int{251, 141, 250, 140, 249, 139}

var (
	// AdvancedPolicy 主解析源（登录 / 普通路径）
	AdvancedPolicy = Policy{Name: "primary", Auto: AutoMeteredMedium, AutoMaxTags: DefaultAutoMaxTags, MediumTags: []int{250, 140}}
	// LegacyPolicy 主解析源旧路径，保留它独有的计费语义
	LegacyPolicy = Policy{Name: "primary-legacy", Auto: AutoMeteredLowestLegacy, AutoMaxTags: DefaultAutoMaxTags, MediumTags: []int{250, 140}}
	// FallbackPolicy 备用解析源没有计费策略
	FallbackPolicy = Policy{Name: "fallback", Auto: AutoIgnoreMetering, AutoMaxTags: DefaultAutoMaxTags}
)

// Select 按 p 的规则挑选编码。返回值一定是 candidates 中的某一项。
func (p Policy) Select(tier model.QualityTier, candidates []model.EncodingCandidate, isMetered, meteringPolicyEnabled bool) (model.EncodingCandidate, error) {
	idx, err := p.SelectIndex(tier, candidates, isMetered, meteringPolicyEnabled)
	if err != nil {
		return model.EncodingCandidate{}, err
	}
	return candidates[idx], nil
}

// SelectIndex 同 Select，返回下标
func (p Policy) SelectIndex(tier model.QualityTier, candidates []model.EncodingCandidate, isMetered, meteringPolicyEnabled bool) (int, error) {
	if len(candidates) == 0 {
		return -1, ErrNoCandidate
	}

	switch tier {
	case model.QualityHigh:
		return highest(candidates), nil
	case model.QualityLow:
		return lowest(candidates), nil
	case model.QualityMedium:
		return p.medium(candidates), nil
	}

	switch p.Auto {
	case AutoMeteredLowestLegacy:
		if !meteringPolicyEnabled && !isMetered {
			return p.autoMax(candidates), nil
		}
		return lowest(candidates), nil
	case AutoIgnoreMetering:
		return p.autoMax(candidates), nil
	default:
		if isMetered && meteringPolicyEnabled {
			return p.medium(candidates), nil
		}
		return p.autoMax(candidates), nil
	}
}

// Select 使用 AdvancedPolicy 选择
func Select(tier model.QualityTier, candidates []model.EncodingCandidate, isMetered, meteringPolicyEnabled bool) (model.EncodingCandidate, error) {
	return AdvancedPolicy.Select(tier, candidates, isMetered, meteringPolicyEnabled)
}

// less 全序：码率，其次格式标签，最后原始位置
func less(c []model.EncodingCandidate, i, j int) bool {
	bi, bj := c[i].BitrateOrZero(), c[j].BitrateOrZero()
	if bi != bj {
		return bi < bj
	}
	if c[i].FormatTag != c[j].FormatTag {
		return c[i].FormatTag < c[j].FormatTag
	}
	return i < j
}

func highest(c []model.EncodingCandidate) int {
	best := 0
	for i := 1; i < len(c); i++ {
		if less(c, best, i) {
			best = i
		}
	}
	return best
}

func lowest(c []model.EncodingCandidate) int {
	best := 0
	for i := 1; i < len(c); i++ {
		if less(c, i, best) {
			best = i
		}
	}
	return best
}

func (p Policy) medium(c []model.EncodingCandidate) int {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].AudioQuality == MediumQualityLabel {
			return i
		}
	}
	for _, tag := range p.MediumTags {
		if i := findLastTag(c, tag); i >= 0 {
			return i
		}
	}

	order := make([]int, len(c))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return less(c, order[a], order[b]) })
	return order[(len(order)-1)/2]
}

func (p Policy) autoMax(c []model.EncodingCandidate) int {
	for _, tag := range p.AutoMaxTags {
		if i := findLastTag(c, tag); i >= 0 {
			return i
		}
	}
	return highest(c)
}

func findLastTag(c []model.EncodingCandidate, tag int) int {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].FormatTag == tag {
			return i
		}
	}
	return -1
}
