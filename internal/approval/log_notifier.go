package approval

import (
	"go.uber.org/zap"

	"github.com/forkline/core/internal/logger"
)

// LogNotifier is the zero-dependency default Notifier: it logs every
// callback instead of forwarding to a GUI, so the gateway is fully
// functional standalone even without an external operator surface attached.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithFields(zap.String("component", "approval-notifier"))}
}

func (n *LogNotifier) NotifySynchronous(taskID, action string, payload []byte) {
	n.logger.Info("agent callback",
		zap.String("task_id", taskID),
		zap.String("action", action),
		zap.Int("payload_bytes", len(payload)),
	)
}

func (n *LogNotifier) NotifyApprovalRequested(req *Request) {
	n.logger.Info("approval requested",
		zap.String("task_id", req.TaskID),
		zap.String("request_id", req.RequestID),
		zap.String("action", string(req.Action)),
	)
}

var _ Notifier = (*LogNotifier)(nil)
