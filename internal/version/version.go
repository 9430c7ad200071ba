// Package version хранит сведения о сборке, проставляемые через -ldflags.
package version

import "fmt"

var (
	version = "dev"
	commit  = "none"
	builtAt = "unknown"
)

// String возвращает однострочное описание сборки для логов и health-ответа.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, builtAt)
}
