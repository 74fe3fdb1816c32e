package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds the regexes of a gitleaks-format TOML file:
//
//	[allowlist]
//	regexes = ['''example-token-[0-9]+''']
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist reads path. A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
		} `toml:"allowlist"`
	}
	if path == "" {
		return &Allowlist{}, nil
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes}, nil
}
