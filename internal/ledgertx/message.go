package ledgertx

import (
	"errors"
	"strings"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// MsgFallback is reported when an error carries no usable text.
const MsgFallback = "Transaction failed"

type metaMessager interface {
	MetaMessages() []string
}

type reasoner interface {
	Reason() string
}

// Describe derives a short human-readable message from err. Typed domain
// errors win, then provider meta messages or revert reasons found anywhere
// in the cause chain, then the error text itself.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var d domain.Describer
	if errors.As(err, &d) {
		if msg := strings.TrimSpace(d.Describe()); msg != "" {
			return msg
		}
	}
	var mm metaMessager
	if errors.As(err, &mm) {
		if msg := strings.TrimSpace(strings.Join(mm.MetaMessages(), " ")); msg != "" {
			return domain.WithGasLimitNote(msg)
		}
	}
	var r reasoner
	if errors.As(err, &r) {
		if msg := strings.TrimSpace(r.Reason()); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return domain.WithGasLimitNote(msg)
	}
	return MsgFallback
}
