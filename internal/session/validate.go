package session

import (
	"errors"
	"fmt"
)

const maxNameLen = 64

// ValidateName checks that name conforms to session naming rules: lowercase
// letters, digits, '-' and '_', starting with a letter or digit, at most 64
// characters. Session names become directory names under the state root, so
// anything fancier is rejected up front.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("session name is empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("session name %q too long: %d > %d characters", name, len(name), maxNameLen)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
			if i == 0 {
				return fmt.Errorf("invalid session name %q: must start with a letter or digit", name)
			}
		default:
			return fmt.Errorf("invalid session name %q: only lowercase letters, digits, '-' and '_' allowed", name)
		}
	}
	return nil
}
