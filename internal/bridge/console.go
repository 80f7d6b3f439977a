package bridge

import (
	"fmt"
	"strings"
)

// ConsoleMessage is one line of page console output.
type ConsoleMessage struct {
	Level   string
	Message string
	Source  string
	Line    int
}

// LogConsole writes msg to the bridge logger as source:line:message. Encoding
// problems in the message are repaired; a failing log handler is ignored.
func (b *Bridge) LogConsole(msg ConsoleMessage) {
	defer func() { _ = recover() }()

	text := strings.ToValidUTF8(msg.Message, "�")
	source := strings.ToValidUTF8(msg.Source, "�")
	line := fmt.Sprintf("%s:%d:%s", source, msg.Line, text)

	switch msg.Level {
	case "error", "assert":
		b.log.Error("page console", "line", line)
	case "warning", "warn":
		b.log.Warn("page console", "line", line)
	case "debug", "verbose":
		b.log.Debug("page console", "line", line)
	default:
		b.log.Info("page console", "line", line)
	}
}
