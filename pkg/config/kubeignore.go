package config

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// Kubeignore filters resources out of discovery and extraction. The
// file format follows .gitignore conventions reduced to what resource
// filtering needs:
//
//	# comment
//	kube-system/*            ignore a whole namespace
//	*/Secret/*               ignore a kind everywhere
//	prod/Pod/canary-*        ignore by name pattern
//
// Each pattern has up to three /-separated segments matched against
// namespace/Kind/name. Missing trailing segments match everything.
type Kubeignore struct {
	patterns []string
}

// ParseKubeignore parses kubeignore content.
func ParseKubeignore(content string) *Kubeignore {
	ki := &Kubeignore{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ki.patterns = append(ki.patterns, line)
	}
	return ki
}

// LoadKubeignore reads a kubeignore file. A missing file yields an
// empty (match-nothing) filter.
func LoadKubeignore(filePath string) (*Kubeignore, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Kubeignore{}, nil
		}
		return nil, fmt.Errorf("read kubeignore: %w", err)
	}
	return ParseKubeignore(string(data)), nil
}

// Ignored reports whether the resource matches any ignore pattern.
func (k *Kubeignore) Ignored(namespace, kind, name string) bool {
	if k == nil || len(k.patterns) == 0 {
		return false
	}
	subject := namespace + "/" + kind + "/" + name
	for _, pattern := range k.patterns {
		if matchIgnorePattern(pattern, subject) {
			return true
		}
	}
	return false
}

// Len returns the number of active patterns.
func (k *Kubeignore) Len() int {
	if k == nil {
		return 0
	}
	return len(k.patterns)
}

func matchIgnorePattern(pattern, subject string) bool {
	patSegs := strings.Split(pattern, "/")
	subSegs := strings.Split(subject, "/")
	if len(patSegs) > len(subSegs) {
		return false
	}
	for i, seg := range patSegs {
		// path.Match errors only on malformed patterns; treat those as
		// non-matching rather than failing the whole filter.
		ok, err := path.Match(seg, subSegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
