package reasoning

import (
	"github.com/BaSui01/reasonflow/testutil"
)

// Prompt fragments used to route scripted responses.
const (
	matchCoTReason   = "meticulous analyst"
	matchCoTVerify   = "critical reviewer"
	matchSCSample    = "Think through the problem independently"
	matchSCExtract   = "Extract the final answer"
	matchToTGenerate = "Propose distinct high-level approaches"
	matchToTExpand   = "Continue developing one line"
	matchToTScore    = "Evaluate how promising"
	matchToTConclude = "Write the final answer using"
	matchRARInitial  = "using only the provided context"
	matchRARGap      = "Turn the missing information"
	matchRARSynth    = "combining the original context"
	matchRARVerify   = "Check whether every claim"
)

type obj = map[string]any

func js(v any) string { return testutil.MustJSON(v) }
