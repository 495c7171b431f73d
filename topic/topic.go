// Package topic assigns interview posts to a fixed set of subject buckets by
// keyword matching.
package topic

import "strings"

// Category is a topic label persisted with each post. The string values are
// displayed by the mobile app as-is.
type Category string

const (
	AlgorithmsAndDataStructures Category = "算法与数据结构"
	JavaCoreAndJVM              Category = "Java基础/JVM"
	Databases                   Category = "数据库"
	Frameworks                  Category = "主流框架"
	Networking                  Category = "计算机网络"
	General                     Category = "综合面经"
)

// rule maps a category to the lower-case keywords that select it.
type rule struct {
	category Category
	keywords []string
}

// rules are checked in order; the first category with a matching keyword
// wins.
var rules = []rule{
	{AlgorithmsAndDataStructures, []string{"算法", "leetcode", "dp", "二叉树"}},
	{JavaCoreAndJVM, []string{"jvm", "gc", "内存", "类加载"}},
	{Databases, []string{"mysql", "redis", "数据库", "索引"}},
	{Frameworks, []string{"spring", "mybatis", "springboot", "框架"}},
	{Networking, []string{"网络", "tcp", "http", "socket"}},
}

// Categories returns every category in priority order, General last.
func Categories() []Category {
	out := make([]Category, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.category)
	}
	return append(out, General)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Classify returns the category of a post given its title and content.
// Matching is a case-insensitive substring test over the concatenation, so
// "dp" also matches inside longer words.
func Classify(title, content string) Category {
	text := strings.ToLower(title + content)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				return r.category
			}
		}
	}
	return General
}
