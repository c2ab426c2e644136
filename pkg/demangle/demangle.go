// Package demangle turns compiler mangled symbol names into their source
// form.
package demangle

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Name returns the demangled form of a C++ (Itanium ABI) or Rust symbol
// name, or name itself if it is not mangled.
func Name(name string) string {
	if !isMangled(name) {
		return name
	}
	out := demangle.Filter(name, demangle.NoClones)
	if out == name {
		return name
	}
	return stripRustHash(out)
}

func isMangled(name string) bool {
	return strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "__Z") || strings.HasPrefix(name, "_R")
}

// stripRustHash removes the hash suffix of legacy Rust symbols, as in
// core::fmt::write::h0123456789abcdef.
func stripRustHash(name string) string {
	i := strings.LastIndex(name, "::h")
	if i < 0 {
		return name
	}
	hash := name[i+3:]
	if len(hash) != 16 {
		return name
	}
	for _, c := range hash {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return name
		}
	}
	return name[:i]
}
