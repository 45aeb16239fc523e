package testscript

import (
	"regexp"
)

// maxTemplateDepth bounds how many times <<KEY>> templates are expanded, so
// self-referencing variables terminate.
const maxTemplateDepth = 10

var templateRe = regexp.MustCompile(`<<([^<>]*)>>`)

// envStore is the per-run view of the environment the guest mutates.
type envStore struct {
	env Environment
}

func newEnvStore(env Environment) *envStore {
	return &envStore{env: env.Clone()}
}

func (s *envStore) get(key string) (string, bool) {
	if i := indexOf(s.env.Selected, key); i >= 0 {
		return s.env.Selected[i].Value, true
	}
	if i := indexOf(s.env.Global, key); i >= 0 {
		return s.env.Global[i].Value, true
	}
	return "", false
}

func (s *envStore) set(key, value string) {
	if i := indexOf(s.env.Selected, key); i >= 0 {
		s.env.Selected[i].Value = value
		return
	}
	if i := indexOf(s.env.Global, key); i >= 0 {
		s.env.Global[i].Value = value
		return
	}
	s.env.Selected = append(s.env.Selected, EnvVar{Key: key, Value: value})
}

func (s *envStore) unset(key string) {
	if i := indexOf(s.env.Selected, key); i >= 0 {
		s.env.Selected = append(s.env.Selected[:i], s.env.Selected[i+1:]...)
		return
	}
	if i := indexOf(s.env.Global, key); i >= 0 {
		s.env.Global = append(s.env.Global[:i], s.env.Global[i+1:]...)
	}
}

// resolve expands <<KEY>> templates. Unknown keys are left untouched.
func (s *envStore) resolve(text string) string {
	for i := 0; i < maxTemplateDepth; i++ {
		next := templateRe.ReplaceAllStringFunc(text, func(m string) string {
			if v, ok := s.get(m[2 : len(m)-2]); ok {
				return v
			}
			return m
		})
		if next == text {
			break
		}
		text = next
	}
	return text
}

func (s *envStore) snapshot() Environment {
	return s.env.Clone()
}

func indexOf(scope Scope, key string) int {
	for i, v := range scope {
		if v.Key == key {
			return i
		}
	}
	return -1
}
