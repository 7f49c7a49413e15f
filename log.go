package shmduplex

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	debug = strings.Contains(os.Getenv("DEBUG_SHMDUPLEX"), "acceptor")

	log logrus.FieldLogger
)

// SetLogger sets the global logger for the package.
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}

func init() {
	logger := logrus.New()
	if debug {
		logger.Level = logrus.DebugLevel
		logger.Debug("shmduplex: debug level enabled for acceptor")
	}
	log = logger.WithField("logger", "shmduplex/acceptor")
}

// hexPreview returns an uppercase hex summary of data for diagnostics.
// Short payloads are shown in full; longer ones show the first and last
// maxBytes bytes.
func hexPreview(data []byte, maxBytes int) string {
	if len(data) == 0 {
		return "(no binary data)"
	}

	const hexDigits = "0123456789ABCDEF"
	hexJoin := func(b []byte) string {
		var sb strings.Builder
		sb.Grow(len(b) * 3)
		for i, c := range b {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteByte(hexDigits[c>>4])
			sb.WriteByte(hexDigits[c&0x0f])
		}
		return sb.String()
	}

	if len(data) <= maxBytes*2 {
		return hexJoin(data)
	}
	return fmt.Sprintf("First %d: %s ... Last %d: %s",
		maxBytes, hexJoin(data[:maxBytes]), maxBytes, hexJoin(data[len(data)-maxBytes:]))
}
