package mailbox

// MailboxMetrics receives mailbox instrumentation. adapters/prometheus
// provides the real implementation; [NopMailboxMetrics] is the default.
type MailboxMetrics interface {
	RequestSaved(duplicate bool)
	ReplySaved(terminal bool)
	MalformedMessage()
	HandlersActive(count int)
	UnprocessedBatch(count int)
}

type nopMailboxMetrics struct{}

func (nopMailboxMetrics) RequestSaved(bool)    {}
func (nopMailboxMetrics) ReplySaved(bool)      {}
func (nopMailboxMetrics) MalformedMessage()    {}
func (nopMailboxMetrics) HandlersActive(int)   {}
func (nopMailboxMetrics) UnprocessedBatch(int) {}

// NopMailboxMetrics returns a [MailboxMetrics] that discards everything.
func NopMailboxMetrics() MailboxMetrics { return nopMailboxMetrics{} }
