package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExplain(t *testing.T) {
	line := `10.0.0.1 cache.local application%2Fjson [19/Oct/2026:10:00:00 +0800] GET /status 200 512 curl%2F8.0 3 412 0 status - 3f0c`

	var buf bytes.Buffer
	explain(&buf, line)

	out := buf.String()
	assert.Contains(t, out, "(0)Client-Ip: 10.0.0.1\n")
	assert.Contains(t, out, "(3)RequestTime: [19/Oct/2026:10:00:00 +0800]\n")
	assert.NotContains(t, out, "(4)")
	assert.Contains(t, out, "(7)ResponseStatus: 200\n")
	assert.Contains(t, out, "(15)RequestID: 3f0c\n")
}
