package builtin_test

import (
	"github.com/writeflow-dev/writeflow/pkg/tools"
)

func resultText(r tools.Result) string {
	return r.Text()
}
