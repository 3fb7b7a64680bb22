package command

// QueryKind names the memory-query shapes the router can emit.
type QueryKind string

const (
	QueryRecap      QueryKind = "recap"
	QuerySummarize  QueryKind = "summarize"
	QueryWhen       QueryKind = "when_mentioned"
	QueryTimestamps QueryKind = "timestamps_tags"
)

// MemoryQuery is a typed descriptor the session resolves against the
// conversation memory and, when needed, the LLM.
type MemoryQuery struct {
	Kind    QueryKind
	Minutes float64
	Topic   string
}

// Effects are state mutations the caller applies after a handled command.
// String fields are set-if-non-empty; ListenOnly is nil when unchanged.
type Effects struct {
	AssistantName string
	UserName      string
	Timezone      string
	Location      string
	ListenOnly    *bool
	ClearMemory   bool
	FactCheck     bool
	Query         *MemoryQuery
}

// Result is the outcome of routing one utterance.
//
// Handled with a non-empty Response: speak the response verbatim, skip the
// LLM. Handled with an empty Response: the effects carry a memory query or
// fact-check the caller must resolve. Not handled: proceed to the LLM.
type Result struct {
	Handled  bool
	Response string
	Effects  Effects
}

// Router turns utterances into deterministic results.
type Router struct {
	classifier Classifier
}

// NewRouter builds a router around the given classifier, defaulting to
// keyword matching.
func NewRouter(c Classifier) *Router {
	if c == nil {
		c = KeywordClassifier{}
	}
	return &Router{classifier: c}
}

func boolPtr(v bool) *bool { return &v }

// Route classifies the utterance and renders the canned response and
// effects. It never calls a model and never mutates session state itself.
func (r *Router) Route(utterance string) Result {
	c := r.classifier.Classify(utterance)
	switch c.Intent {
	case IntentAssistantName:
		return Result{
			Handled:  true,
			Response: "Got it. I'll respond to the name " + c.Value + ".",
			Effects:  Effects{AssistantName: c.Value},
		}
	case IntentUserName:
		return Result{
			Handled:  true,
			Response: "Nice to meet you, " + c.Value + ".",
			Effects:  Effects{UserName: c.Value},
		}
	case IntentTimezone:
		return Result{
			Handled:  true,
			Response: "Timezone set to " + c.Value + ".",
			Effects:  Effects{Timezone: c.Value},
		}
	case IntentLocation:
		return Result{
			Handled:  true,
			Response: "Noted. Location: " + c.Value + ".",
			Effects:  Effects{Location: c.Value},
		}
	case IntentListenStart:
		return Result{
			Handled:  true,
			Response: "I'm now listening to the conversation. Say your wake word or 'now you can speak' when you want me to respond.",
			Effects:  Effects{ListenOnly: boolPtr(true)},
		}
	case IntentListenStop:
		return Result{
			Handled:  true,
			Response: "Stopped listening. Say 'start listening' when you want me to listen again.",
			Effects:  Effects{ListenOnly: boolPtr(false)},
		}
	case IntentListenResume:
		return Result{
			Handled:  true,
			Response: "Resuming. I'm listening again.",
			Effects:  Effects{ListenOnly: boolPtr(true)},
		}
	case IntentClearMemory:
		return Result{
			Handled:  true,
			Response: "Memory cleared.",
			Effects:  Effects{ClearMemory: true},
		}
	case IntentRecap:
		return Result{
			Handled: true,
			Effects: Effects{Query: &MemoryQuery{Kind: QueryRecap, Minutes: c.Minutes}},
		}
	case IntentSummarize:
		return Result{
			Handled: true,
			Effects: Effects{Query: &MemoryQuery{Kind: QuerySummarize, Minutes: c.Minutes}},
		}
	case IntentWhenMentioned:
		return Result{
			Handled: true,
			Effects: Effects{Query: &MemoryQuery{Kind: QueryWhen, Topic: c.Topic}},
		}
	case IntentTimestamps:
		return Result{
			Handled: true,
			Effects: Effects{Query: &MemoryQuery{Kind: QueryTimestamps}},
		}
	case IntentFactCheck:
		return Result{
			Handled: true,
			Effects: Effects{FactCheck: true},
		}
	default:
		return Result{}
	}
}
