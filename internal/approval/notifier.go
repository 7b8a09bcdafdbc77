package approval

// Notifier forwards agent-originated callbacks to the operator surface.
// The desktop/renderer GUI that actually displays these lives outside this
// daemon; this interface is the narrow seam to call into it. LogNotifier is
// the zero-dependency default so the gateway works standalone.
type Notifier interface {
	// NotifySynchronous forwards a fire-and-forget callback (todos, message,
	// usage) that never blocks on a human decision.
	NotifySynchronous(taskID, action string, payload []byte)

	// NotifyApprovalRequested forwards a newly created pending ApprovalRequest
	// so the operator surface can prompt for a decision.
	NotifyApprovalRequested(req *Request)
}
