// Package simhash fingerprints transcripts so merged datasets can report
// near-duplicate utterances.
package simhash

import (
	"strings"
	"unicode"

	"github.com/go-dedup/simhash"
	"golang.org/x/text/unicode/norm"
)

// NearDuplicateThreshold 汉明距离 <= 3 视为近似重复的转写文本
const NearDuplicateThreshold = 3

// TranscriptFeatureSet 实现 simhash.FeatureSet 接口，用于转写文本的特征提取
type TranscriptFeatureSet struct {
	text string
}

// GetFeatures 提取文本特征
// 使用字符级bigram特征，对无空格分词的语言（中文、日文）同样适用
func (t TranscriptFeatureSet) GetFeatures() []simhash.Feature {
	runes := []rune(Normalize(t.text))
	if len(runes) == 0 {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0, len(runes))
	for i := 0; i < len(runes)-1; i++ {
		r1, r2 := runes[i], runes[i+1]
		if isSeparator(r1) || isSeparator(r2) {
			continue
		}
		features = append(features, simhash.NewFeature([]byte(string([]rune{r1, r2}))))
	}

	// 短文本（<4个字符）追加单字符特征增强区分度
	if len(runes) < 4 {
		for _, r := range runes {
			if !isSeparator(r) {
				features = append(features, simhash.NewFeature([]byte(string(r))))
			}
		}
	}

	return features
}

// Normalize 统一 Unicode 形式（NFKC）、大小写与空白，去掉标点
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteRune(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return unicode.IsSpace(r)
}

// Fingerprint 计算文本的 64 位 SimHash 指纹
func Fingerprint(text string) uint64 {
	return simhash.NewSimhash().GetSimhash(TranscriptFeatureSet{text: text})
}

// HammingDistance 计算两个 SimHash 指纹的汉明距离（0-64）
func HammingDistance(hash1, hash2 uint64) int {
	x := hash1 ^ hash2
	count := 0
	// Brian Kernighan算法
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// IsNearDuplicate 判断两段转写文本是否近似重复
func IsNearDuplicate(text1, text2 string) bool {
	return HammingDistance(Fingerprint(text1), Fingerprint(text2)) <= NearDuplicateThreshold
}

// CountNearDuplicates 统计与前面任一文本近似重复的文本数量
// 空文本不参与比较
func CountNearDuplicates(texts []string) int {
	seen := make([]uint64, 0, len(texts))
	count := 0
	for _, text := range texts {
		if Normalize(text) == "" {
			continue
		}
		fp := Fingerprint(text)
		for _, prev := range seen {
			if HammingDistance(fp, prev) <= NearDuplicateThreshold {
				count++
				break
			}
		}
		seen = append(seen, fp)
	}
	return count
}
