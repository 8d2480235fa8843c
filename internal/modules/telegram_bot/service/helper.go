package service

import (
	"fmt"
	"strings"
)

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}

// command: "/status@my_bot arg" -> "status".
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text[1:])
	if len(cmd) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(cmd[0], "@")
	return strings.ToLower(name)
}
