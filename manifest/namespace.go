package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ToPascalCase converts a string to PascalCase.
// "my-app" -> "MyApp", "models" -> "Models", "myApp" -> "MyApp"
func ToPascalCase(s string) string {
	var words []string
	current := ""
	for i, r := range s {
		if r == '-' || r == '_' || r == '.' || r == ' ' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			continue
		}
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			if prev >= 'a' && prev <= 'z' {
				words = append(words, current)
				current = ""
			}
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}

	var result string
	for _, w := range words {
		if w == "" {
			continue
		}
		result += strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return result
}

// LibraryNamespace derives a namespace from a library file name:
// "ui-helpers.uasm" -> "UiHelpers".
func LibraryNamespace(path string) string {
	base := filepath.Base(path)
	return ToPascalCase(strings.TrimSuffix(base, filepath.Ext(base)))
}

// reservedNamespaces lists type-name roots of the VM's extern surface.
// A namespaced symbol starting with one of these would read as a type.
var reservedNamespaces = []string{
	"System",
	"UnityEngine",
	"VRC",
	"VRCSDKBase",
	"Udon",
	"TMPro",
	"Cinemachine",
}

// IsReservedNamespace reports whether name is a VM type-name root that
// must not be used as a dependency namespace. Case is ignored, so "Vrc"
// is reserved as well.
func IsReservedNamespace(name string) bool {
	for _, r := range reservedNamespaces {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}

// ValidateNamespace checks that ns can prefix symbol and method names:
// ASCII letters and digits only, and not a reserved root.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("empty namespace")
	}
	for _, r := range ns {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return fmt.Errorf("namespace %q: only letters and digits are allowed", ns)
		}
	}
	if IsReservedNamespace(ns) {
		return fmt.Errorf("namespace %q is reserved", ns)
	}
	return nil
}
