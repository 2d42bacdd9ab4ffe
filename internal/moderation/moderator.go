// Package moderation 提供用户输入内容的敏感词审查
package moderation

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"craftlobby-core/internal/core/log"
)

// Moderator 敏感词审查器
//
// 规则来自换行分隔的词表文件，匹配为大小写不敏感的子串匹配，
// 按文件顺序返回第一个命中的规则。词表可在运行期重新加载。
type Moderator struct {
	path string

	mu    sync.RWMutex
	rules []string
}

// New 创建审查器并加载词表
// 词表文件缺失仅告警：审查器降级为"不命中任何内容"
func New(path string) *Moderator {
	m := &Moderator{path: path}
	if err := m.Reload(); err != nil {
		log.Warnf("Moderator: failed to load wordlist %s: %v, moderation disabled", path, err)
	}
	return m
}

// Reload 重新读取词表文件，整体替换规则
func (m *Moderator) Reload() error {
	if m.path == "" {
		return nil
	}

	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	var rules []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rules = append(rules, line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.rules = rules
	m.mu.Unlock()

	log.Infof("Moderator: loaded %d rules from %s", len(rules), m.path)
	return nil
}

// Check 检查文本，返回第一个命中的规则；未命中返回空串
func (m *Moderator) Check(text string) string {
	if text == "" {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	lowered := strings.ToLower(text)
	for _, rule := range m.rules {
		if strings.Contains(lowered, strings.ToLower(rule)) {
			return rule
		}
	}
	return ""
}

// RuleCount 当前加载的规则数
func (m *Moderator) RuleCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}
