package health

import (
	"github.com/bubblepkg/bubblepkg/pkg/cryptoutil"
)

// hashOf returns a short content hash of data, or "" for nil/empty
// input, for audit records comparing before/after KB values.
func hashOf(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	return cryptoutil.HashBytes(data)
}
