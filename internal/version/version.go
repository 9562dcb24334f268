// Package version хранит сведения о сборке, проставляемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/eshop/internal/version.version=v1.2.0
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Version отдаётся в /health и в ресурсе трассировки.
func Version() string { return version }

// String — строка для лога при старте.
func String() string {
	return fmt.Sprintf("eshop %s (commit %s, built %s)", version, commit, date)
}
