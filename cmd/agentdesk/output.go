package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func printJSONTo(out io.Writer, value interface{}) {
	payload, _ := json.MarshalIndent(value, "", "  ")
	fmt.Fprintln(out, string(payload))
}

func formatInt64WithCommas(value int64) string {
	raw := strconv.FormatInt(value, 10)
	negative := strings.HasPrefix(raw, "-")
	if negative {
		raw = raw[1:]
	}
	if len(raw) <= 3 {
		if negative {
			return "-" + raw
		}
		return raw
	}

	var builder strings.Builder
	prefix := len(raw) % 3
	if prefix == 0 {
		prefix = 3
	}
	builder.WriteString(raw[:prefix])
	for i := prefix; i < len(raw); i += 3 {
		builder.WriteByte(',')
		builder.WriteString(raw[i : i+3])
	}
	if negative {
		return "-" + builder.String()
	}
	return builder.String()
}
